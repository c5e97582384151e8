package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/BeagleDevfr/shopping-sync-backend/pkg/access"
	"github.com/BeagleDevfr/shopping-sync-backend/pkg/api"
	"github.com/BeagleDevfr/shopping-sync-backend/pkg/live"
	"github.com/BeagleDevfr/shopping-sync-backend/pkg/room"
	"github.com/BeagleDevfr/shopping-sync-backend/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "localhost:8080", "the address to listen on")
	dbVar := flag.String("db", "shopping.sqlite3", "the sqlite file to use when DATABASE_URL is unset")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("opening database")
	st, err := openStore(*dbVar)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		return err
	}

	hub := room.NewHub()
	guard := access.NewGuard(st)
	pipeline := live.NewPipeline(st, guard, hub)
	server := api.NewServer(st, pipeline)

	httpServer := &http.Server{Addr: *addrVar, Handler: server.Router()}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // buffer size 1 so the notifier is not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	wg.Wait()
	return nil
}

// openStore prefers a postgres DATABASE_URL; without one it runs on a local
// sqlite file with foreign keys enabled. Either failing here is fatal,
// nothing can function without the gateway.
func openStore(sqlitePath string) (*store.Store, error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return store.NewPostgres(dsn)
	}
	return store.NewSQLite("file:" + sqlitePath + "?_foreign_keys=on")
}
