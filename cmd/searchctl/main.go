package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/bookery/bookery-service/internal/search"
	"github.com/bookery/bookery-service/pkg/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// searchctl drives one interactive search session against a running bookery
// server. Every line typed is treated as the current content of the search
// box; debouncing, caching and cancellation happen client side in the
// coordinator.
func main() {
	_ = godotenv.Load()

	addr := os.Getenv("BOOKERY_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}

	log := logger.NewLogger(logger.Log{LogLevel: zapcore.WarnLevel}, "searchctl")
	src := search.NewHTTPSources(addr)

	c := search.NewCoordinator(src, src, printUpdate, log)
	defer c.Close()

	fmt.Printf("connected to %s; type a query, empty line to quit\n", addr)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			return
		}
		c.Input(line)
	}
}

func printUpdate(u search.Update) {
	if u.Err != nil {
		fmt.Printf("[%s] error: %v\n", u.Query, u.Err)
		return
	}
	origin := "live"
	if u.FromCache {
		origin = "cache"
	}
	fmt.Printf("[%s] (%s) %d books, %d users\n", u.Query, origin, len(u.Books), len(u.Users))
	for _, b := range u.Books {
		fmt.Printf("  book %-14s %s by %s\n", b.CatalogID, b.Title, strings.Join(b.Authors, ", "))
	}
	for _, usr := range u.Users {
		fmt.Printf("  user %s\n", usr.Username)
	}
}
