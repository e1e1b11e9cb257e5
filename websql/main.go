/*
Copyright 2024 WebSQL, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/websql/websql"
	"github.com/websql/websql/lib/config"
	"github.com/websql/websql/lib/defaults"
	"github.com/websql/websql/lib/mysql"
	"github.com/websql/websql/lib/secret"
	"github.com/websql/websql/lib/session"
	"github.com/websql/websql/lib/utils"
	"github.com/websql/websql/lib/web"
)

func main() {
	app := kingpin.New("websql", "WebSQL is a web based MySQL administration tool.")

	startCmd := app.Command("start", "Start the websql server.")
	configPath := startCmd.Flag("config", "Path to the configuration file.").
		Short('c').Default("/etc/websql.yaml").String()

	versionCmd := app.Command("version", "Print the version and exit.")

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	switch command {
	case startCmd.FullCommand():
		if err := run(*configPath); err != nil {
			log.Errorf("%v", trace.DebugReport(err))
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", trace.UserMessage(err))
			os.Exit(1)
		}
	case versionCmd.FullCommand():
		fmt.Printf("websql v%v\n", websql.Version)
	}
}

func run(configPath string) error {
	fc, err := config.ReadConfigFile(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := utils.InitLogger(fc.WebSQL.LogSeverity); err != nil {
		return trace.Wrap(err)
	}

	// A weak session secret makes every stored password recoverable,
	// so refuse to start with one.
	cipher, err := secret.New(fc.WebSQL.SecretKey)
	if err != nil {
		return trace.Wrap(err)
	}

	tlsConfig, err := fc.Database.ClientTLSConfig()
	if err != nil {
		return trace.Wrap(err)
	}

	pool, err := mysql.NewPool(mysql.PoolConfig{
		Client: mysql.ClientConfig{
			Host:     fc.Database.Host,
			Port:     fc.Database.Port,
			User:     fc.Database.User,
			Password: fc.Database.Password,
			TLS:      tlsConfig,
		},
		MaxConnections: fc.Database.MaxConnections,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := session.New(session.Config{Pool: pool})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := store.Init(ctx); err != nil {
		return trace.Wrap(err)
	}
	go store.RunCleanup(ctx)

	settings := config.NewSettings(config.DatabaseSettings{
		Host:           fc.Database.Host,
		Port:           fc.Database.Port,
		MaxConnections: fc.Database.MaxConnections,
		DefaultSchema:  fc.Database.DefaultSchema,
	})

	handler, err := web.NewHandler(web.Config{
		Store:      store,
		Cipher:     cipher,
		Pool:       pool,
		Broker:     mysql.NewBroker(pool, fc.Database.DefaultSchema),
		Settings:   settings,
		SessionTTL: fc.ParsedSessionTTL(),
		TLS:        tlsConfig,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	srv := &http.Server{
		Addr:              fc.WebSQL.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: defaults.ReadHeaderTimeout,
	}

	errC := make(chan error, 1)
	go func() {
		log.Infof("websql v%v listening on %v.", websql.Version, fc.WebSQL.ListenAddr)
		errC <- srv.ListenAndServe()
	}()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errC:
		return trace.Wrap(err)
	case sig := <-sigC:
		log.Infof("Received %v, shutting down.", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
