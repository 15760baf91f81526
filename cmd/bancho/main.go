package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayase/bancho/pkg/database"
	"github.com/ayase/bancho/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.bancho/config.toml", "path to config file")
	flag.Parse()

	tomlCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := tomlCfg.ToServerConfig()

	dbPath, err := tomlCfg.GetDatabasePath()
	if err != nil {
		log.Fatalf("failed to resolve database path: %v", err)
	}
	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	var seed []database.ChannelRow
	for _, ch := range cfg.SeedChannels {
		seed = append(seed, database.ChannelRow{
			Name:     ch.Name,
			Topic:    ch.Topic,
			AutoJoin: ch.AutoJoin,
		})
	}
	if err := db.SeedDefaultChannels(seed); err != nil {
		log.Fatalf("failed to seed channels: %v", err)
	}

	srv, err := server.NewServer(cfg, db)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	if cfg.HTTPPort != 0 {
		go func() {
			if err := srv.StartHTTP(); err != nil && err != http.ErrServerClosed {
				log.Printf("http transport stopped: %v", err)
			}
		}()
	}
	if cfg.IRCPort != 0 {
		go func() {
			if err := srv.StartIRC(); err != nil {
				log.Printf("irc transport stopped: %v", err)
			}
		}()
	}
	if cfg.MetricsEnabled {
		go func() {
			if err := srv.Metrics().Serve(cfg.MetricsPort); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics listener stopped: %v", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
