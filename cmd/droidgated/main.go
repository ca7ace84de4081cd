package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	bolt "go.etcd.io/bbolt"

	"github.com/webadb/droidgate/internal/audit"
	"github.com/webadb/droidgate/internal/history"
	"github.com/webadb/droidgate/internal/policy"
	"github.com/webadb/droidgate/internal/runtimeconfig"
	"github.com/webadb/droidgate/internal/transport"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "droidgated",
		Short:         "Local daemon bridging the browser console to Android devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
	flags := rootCommand.Flags()
	flags.String("addr", "127.0.0.1:8722", "listen address")
	flags.String("db", "", "bolt database path (default ~/.droidgate/droidgate.db)")
	flags.String("policy", "", "console policy YAML path")
	flags.String("adb-serial", "", "pin the daemon to one device serial")
	flags.String("catalog-endpoint", "", "app label catalog endpoint")
	flags.Bool("demo", false, "use the canned demo transport instead of adb")
	_ = viper.BindPFlags(flags)
	viper.SetEnvPrefix("DROIDGATE")
	viper.AutomaticEnv()

	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "droidgated failed: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon() error {
	lock, lockError := acquireDaemonLock()
	if lockError != nil {
		return lockError
	}
	defer lock.release()

	fileConfig, configError := runtimeconfig.Load("")
	if configError != nil {
		return configError
	}
	authDisabled := runtimeconfig.ResolveBool("DROIDGATE_DISABLE_AUTH", fileConfig.Values)
	daemonToken := ""
	if !authDisabled {
		var tokenError error
		fileConfig, daemonToken, tokenError = runtimeconfig.EnsureToken(fileConfig)
		if tokenError != nil {
			return tokenError
		}
	}

	databasePath := viper.GetString("db")
	if databasePath == "" {
		homeDir, homeError := os.UserHomeDir()
		if homeError != nil {
			return fmt.Errorf("resolve home directory failed: %w", homeError)
		}
		databasePath = filepath.Join(homeDir, ".droidgate", "droidgate.db")
	}
	if mkdirError := os.MkdirAll(filepath.Dir(databasePath), 0o700); mkdirError != nil {
		return fmt.Errorf("create database directory failed: %w", mkdirError)
	}
	db, openError := bolt.Open(databasePath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if openError != nil {
		return fmt.Errorf("open database failed: %w", openError)
	}
	defer db.Close()

	auditLog, auditError := audit.NewLog(db)
	if auditError != nil {
		return fmt.Errorf("open audit log failed: %w", auditError)
	}
	historyStore, historyError := history.NewStore(db)
	if historyError != nil {
		return fmt.Errorf("open history store failed: %w", historyError)
	}
	consolePolicy, policyError := policy.Load(viper.GetString("policy"))
	if policyError != nil {
		return fmt.Errorf("load policy failed: %w", policyError)
	}

	demoMode := viper.GetBool("demo")
	adbSerial := viper.GetString("adb-serial")
	var deviceTransport transport.Transport
	if demoMode {
		deviceTransport = transport.NewDemo()
	} else {
		adbTransport, adbError := transport.NewADB(adbSerial)
		if adbError != nil {
			return fmt.Errorf("adb transport unavailable: %w", adbError)
		}
		deviceTransport = adbTransport
	}

	server, serverError := newDaemonServer(daemonConfig{
		deviceTransport: deviceTransport,
		auditLog:        auditLog,
		historyStore:    historyStore,
		consolePolicy:   consolePolicy,
		catalogEndpoint: viper.GetString("catalog-endpoint"),
		adbSerial:       adbSerial,
		demoTransport:   demoMode,
		authDisabled:    authDisabled,
		daemonToken:     daemonToken,
	})
	if serverError != nil {
		return serverError
	}

	address := viper.GetString("addr")
	httpServer := &http.Server{
		Addr:              address,
		Handler:           server.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	fmt.Printf("droidgated listening on http://%s\n", address)
	if serveError := httpServer.ListenAndServe(); serveError != nil && serveError != http.ErrServerClosed {
		return serveError
	}
	return nil
}
