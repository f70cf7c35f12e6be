package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/keyfission/realm-backend/cmd/flags"
	"github.com/keyfission/realm-backend/engine"
	"github.com/keyfission/realm-backend/httpserver"
	"github.com/keyfission/realm-backend/interfaces"
	"github.com/keyfission/realm-backend/storage"
	"github.com/keyfission/realm-backend/tenantauth"
)

func main() {
	app := &cli.App{
		Name:  "realm-server",
		Usage: "Serve one PIN-recovery realm over HTTP",
		Flags: append([]cli.Flag{
			flags.RealmIDFlag,
			flags.RecordStoreFlag,
			flags.TenantStoreFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			realm, err := interfaces.NewRealmIDFromHex(cCtx.String(flags.RealmIDFlag.Name))
			if err != nil {
				logger.Error("Invalid realm-id - must be 32 hex chars (16 bytes)", "err", err)
				return err
			}
			logger = logger.With("realm", realm.String())

			storeFactory := storage.NewStoreBackendFactory(logger, realm)
			store, err := storeFactory.SplitStoreFor(
				cCtx.String(flags.RecordStoreFlag.Name),
				cCtx.String(flags.TenantStoreFlag.Name))
			if err != nil {
				logger.Error("Failed to create secret store", "err", err)
				return err
			}
			logger.Info("Secret store ready", "location", store.LocationURI())

			handler := httpserver.NewHandler(realm,
				tenantauth.New(store, logger),
				engine.New(store, logger),
				logger)

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
