package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/recruitflow/relay/internal/bootstrap"
	"github.com/recruitflow/relay/internal/server"
)

func main() {
	initDB := flag.Bool("init", false, "初始化数据库（建表 + 种子数据）后退出")
	flag.Parse()

	if *initDB {
		if err := bootstrap.Run(); err != nil {
			fmt.Printf("❌ Database initialization failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Database initialized")
		return
	}

	fmt.Println("🚀 Starting RecruitFlow Relay...")

	relay, err := server.New()
	if err != nil {
		fmt.Printf("❌ Failed to start relay: %v\n", err)
		os.Exit(1)
	}
	defer relay.Close()

	if err := relay.Run(); err != nil {
		fmt.Printf("❌ Relay error: %v\n", err)
		os.Exit(1)
	}

	waitForSignal()
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit

	fmt.Println("👋 Service exiting")
}
