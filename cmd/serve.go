package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"
	"github.com/wirehub/wirehub/pkg/app"
	"github.com/wirehub/wirehub/pkg/config"
	"github.com/wirehub/wirehub/pkg/db"
	"github.com/wirehub/wirehub/pkg/hub"
	wlog "github.com/wirehub/wirehub/pkg/log"
	"github.com/wirehub/wirehub/pkg/rowdb"
	"github.com/wirehub/wirehub/pkg/server"
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the hub server",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("debug") {
				wlog.SetGlobalDebug(true)
			}
			return serve(ctx, c.String("config"))
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	handle, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := handle.Close(); err != nil {
			fmt.Printf("Warning: failed to close database: %v\n", err)
		}
	}()

	if err := db.InitializeDatabase(handle, cfg.TablePrefix); err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}

	rdb := rowdb.New(handle, rowdb.Options{SortColumn: "n", JSONColumn: "json"})
	h := hub.New(hub.Options{
		DB:             rdb,
		Prefix:         cfg.TablePrefix,
		SessionTTL:     cfg.SessionTTL.Duration,
		HandlerTimeout: cfg.HandlerTimeout.Duration,
	})
	app.Register(h, cfg.TrackInstances)

	srv := server.NewServer(h, cfg.PollMaxWait.Duration)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go h.Run(hubCtx)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// watch the config file so tunable changes apply without a restart
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Warning: failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Printf("Warning: failed to close config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			log.Printf("Warning: failed to watch config file %s: %v", configPath, err)
		} else {
			log.Printf("Watching config file for changes: %s", configPath)
		}
	}

	shutdown := func() error {
		fmt.Println("\nShutting down...")
		hubCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}

	var watcherEvents chan fsnotify.Event
	var watcherErrors chan error
	if watcher != nil {
		watcherEvents = watcher.Events
		watcherErrors = watcher.Errors
	}

	for {
		select {
		case err := <-serverErr:
			hubCancel()
			return fmt.Errorf("http server: %w", err)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				log.Println("Received SIGHUP, reloading configuration...")
				if err := reloadConfiguration(configPath, cfg, h, srv); err != nil {
					log.Printf("Failed to reload configuration: %v", err)
				} else {
					log.Println("Configuration reloaded successfully")
				}
			case syscall.SIGINT, syscall.SIGTERM:
				return shutdown()
			}
		case event, ok := <-watcherEvents:
			if !ok {
				continue
			}
			// editors often replace the file rather than writing in place
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					time.Sleep(200 * time.Millisecond)
					if _, err := os.Stat(configPath); os.IsNotExist(err) {
						log.Printf("Config file was removed and not replaced, skipping reload")
						continue
					}
					if err := watcher.Add(configPath); err != nil {
						log.Printf("Warning: failed to re-add config file to watcher: %v", err)
					}
				} else {
					time.Sleep(100 * time.Millisecond)
				}

				log.Printf("Config file changed (%s), reloading configuration...", event.Op)
				if err := reloadConfiguration(configPath, cfg, h, srv); err != nil {
					log.Printf("Failed to reload configuration after file change: %v", err)
				} else {
					log.Println("Configuration reloaded successfully after file change")
				}
			}
		case err, ok := <-watcherErrors:
			if !ok {
				continue
			}
			log.Printf("Config file watcher error: %v", err)
		case <-ctx.Done():
			return shutdown()
		}
	}
}

// reloadConfiguration applies the runtime-tunable settings from a freshly
// loaded config. The listen address, database path, and table prefix need a
// restart; a change to those is reported but not applied.
func reloadConfiguration(configPath string, current *config.Config, h *hub.Hub, srv *server.Server) error {
	newCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading new config: %w", err)
	}

	if newCfg.ListenAddr != current.ListenAddr {
		log.Printf("listen_addr changed to %s; restart to apply", newCfg.ListenAddr)
	}
	if newCfg.DatabasePath != current.DatabasePath {
		log.Printf("database_path changed to %s; restart to apply", newCfg.DatabasePath)
	}
	if newCfg.TablePrefix != current.TablePrefix {
		log.Printf("table_prefix changed to %q; restart to apply", newCfg.TablePrefix)
	}

	h.SetSessionTTL(newCfg.SessionTTL.Duration)
	h.SetHandlerTimeout(newCfg.HandlerTimeout.Duration)
	srv.SetPollMaxWait(newCfg.PollMaxWait.Duration)

	*current = *newCfg
	return nil
}
