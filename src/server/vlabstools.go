// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/casjay-forks/vlabstools/src/apiv1"
	"github.com/casjay-forks/vlabstools/src/audit"
	"github.com/casjay-forks/vlabstools/src/backup"
	"github.com/casjay-forks/vlabstools/src/cli"
	"github.com/casjay-forks/vlabstools/src/config"
	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/metrics"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/scheduler"
	"github.com/casjay-forks/vlabstools/src/service"
	"github.com/casjay-forks/vlabstools/src/ssl"
	"github.com/casjay-forks/vlabstools/src/storage"
	"github.com/casjay-forks/vlabstools/src/web"
)

// Build info - set via -ldflags at build time
var (
	Version   = "unknown"
	CommitID  = "unknown"
	BuildDate = "unknown"
)

func getVersion() string {
	if Version != "unknown" {
		return Version
	}

	data, err := os.ReadFile("release.txt")
	if err == nil {
		if version := strings.TrimSpace(string(data)); version != "" {
			return version
		}
	}

	return "1.0.0"
}

func exitOnError(e error) {
	fmt.Fprintln(os.Stderr, "error:", e.Error())
	os.Exit(1)
}

// retryWithBackoff retries operation while it fails with a connection error,
// for databases that start after the server.
func retryWithBackoff(operation func() error, maxAttempts int, initialDelay time.Duration, maxDelay time.Duration, description string) error {
	var err error
	delay := initialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = operation()
		if err == nil {
			return nil
		}

		msg := err.Error()
		if !strings.Contains(msg, "connection refused") &&
			!strings.Contains(msg, "no such host") &&
			!strings.Contains(msg, "i/o timeout") {
			return err
		}

		if attempt < maxAttempts {
			fmt.Fprintf(os.Stderr, "[WARN]    %s failed (attempt %d/%d): %v - retrying in %v...\n",
				description, attempt, maxAttempts, err, delay)
			time.Sleep(delay)

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", description, maxAttempts, err)
}

func printStartupBanner(version string, title string, configFile string, database string, addr string, public bool) {
	access := "public"
	if !public {
		access = "admin login required"
	}

	fmt.Println()
	fmt.Println("  " + title + " " + version)
	fmt.Println("  Config:   " + configFile)
	fmt.Println("  Database: " + database)
	fmt.Println("  Access:   " + access)
	fmt.Println("  Listen:   " + displayAddress(addr))
	fmt.Println()
}

// schedulerTasks are the built-in housekeeping jobs plus the configured
// folder backups.
func schedulerTasks(log logger.Logger, db storage.DB, keep int, backups *backup.Service, jobs []config.BackupJob, cleanup func()) ([]*scheduler.Task, error) {
	tasks, err := backups.Tasks(jobs)
	if err != nil {
		return nil, err
	}

	if keep > 0 {
		tasks = append(tasks, &scheduler.Task{
			ID:       "history-prune",
			Name:     "Prune run history",
			Schedule: "@hourly",
			Enabled:  true,
			Timeout:  time.Minute,
			Handler: func(ctx context.Context) error {
				n, err := db.HistoryPrune(ctx, keep)
				if n > 0 {
					log.Info("Pruned " + strconv.FormatInt(n, 10) + " history records")
				}
				return err
			},
		})
	}

	tasks = append(tasks, &scheduler.Task{
		ID:       "limiter-cleanup",
		Name:     "Forget idle rate limit and login entries",
		Schedule: "@every 10m",
		Enabled:  true,
		Handler: func(ctx context.Context) error {
			cleanup()
			return nil
		},
	})

	return tasks, nil
}

func main() {
	var err error

	Version = getVersion()

	c := cli.New(Version)

	flagAddress := c.AddStringVar("address", "", "HTTP server ADDRESS:PORT. Overrides server.listen and server.port.", nil)
	flagPort := c.AddStringVar("port", "", "Port to listen on. Overrides server.port.", nil)
	flagDataDir := c.AddStringVar("data", "", "Data directory. Examples: /var/lib/vlabstools, ~/.local/share/vlabstools", nil)
	flagConfigDir := c.AddStringVar("config", "", "Configuration directory holding server.yml. Examples: /etc/vlabstools, ~/.config/vlabstools", nil)
	flagLogsDir := c.AddStringVar("logs", "", "Logs directory. Examples: /var/log/vlabstools, ~/.local/log/vlabstools", nil)
	flagDebug := c.AddBoolVar("debug", "Enable debug logging to debug.log and /debug/pprof")
	flagScan := c.AddStringVar("scan", "", "Scan HOST from the terminal and exit.", nil)
	flagPorts := c.AddStringVar("ports", "", "Port list for --scan, e.g. 22,80,8000-8100. Default: 80,443,22", nil)
	flagPasswd := c.AddStringVar("passwd", "", "Set the admin password for USER and exit.", nil)
	flagMigrate := c.AddStringVar("migrate-from", "", "Copy the run history from DRIVER:SOURCE into the configured database and exit.", nil)
	flagService := c.AddStringVar("service", "", "Manage the system service and exit: "+strings.Join(service.Actions, ", ")+".", nil)

	c.Parse()

	if *flagConfigDir == "" {
		*flagConfigDir = defaultDir("config")
	}
	if err := ensureDirectories(*flagConfigDir); err != nil {
		exitOnError(err)
	}

	yamlCfg, configFilePath, err := loadConfig(*flagConfigDir)
	if err != nil {
		exitOnError(fmt.Errorf("config %s: %w", configFilePath, err))
	}

	// Flags win over the file
	if *flagDataDir != "" {
		yamlCfg.Directories.Data = *flagDataDir
	} else if yamlCfg.Directories.Data == config.DefaultYAMLConfig().Directories.Data {
		yamlCfg.Directories.Data = defaultDir("data")
	}
	if *flagLogsDir != "" {
		yamlCfg.Directories.Logs = *flagLogsDir
	} else if yamlCfg.Directories.Logs == config.DefaultYAMLConfig().Directories.Logs {
		yamlCfg.Directories.Logs = defaultDir("logs")
	}
	yamlCfg.Directories.Config = *flagConfigDir
	config.ResolvePlaceholders(yamlCfg)

	if *flagAddress != "" {
		host, port, err := net.SplitHostPort(*flagAddress)
		if err != nil {
			exitOnError(fmt.Errorf("invalid --address: %w", err))
		}
		yamlCfg.Server.Listen = host
		yamlCfg.Server.Port = port
	}
	if *flagPort != "" {
		yamlCfg.Server.Port = *flagPort
	}

	if err := ensureDirectories(yamlCfg.Directories.Data, yamlCfg.Directories.Logs, yamlCfg.Backup.Folder.Destination); err != nil {
		exitOnError(err)
	}

	if err := audit.Init(auditConfig(yamlCfg)); err != nil {
		exitOnError(err)
	}
	defer audit.Close()

	// One-shot commands
	if *flagService != "" {
		if err := runService(*flagService, yamlCfg); err != nil {
			exitOnError(err)
		}
		return
	}
	if *flagPasswd != "" {
		if err := runPasswd(yamlCfg.Security.PasswordFile, *flagPasswd); err != nil {
			exitOnError(err)
		}
		return
	}
	if *flagMigrate != "" {
		if err := runMigrate(yamlCfg, *flagMigrate); err != nil {
			exitOnError(err)
		}
		return
	}

	logs, err := openLogFiles(yamlCfg.Directories.Logs, yamlCfg, *flagDebug)
	if err != nil {
		exitOnError(err)
	}
	defer logs.Close()

	if *flagScan != "" {
		// The terminal belongs to the progress view, logs go to files only
		log := newLogger(yamlCfg, logs, *flagDebug, true)
		tb, err := newToolbox(log, yamlCfg, nil)
		if err != nil {
			exitOnError(err)
		}
		if err := runScan(tb, *flagScan, *flagPorts); err != nil {
			exitOnError(err)
		}
		return
	}

	log := newLogger(yamlCfg, logs, *flagDebug, false)

	log.Debug("Configuration loaded from: " + configFilePath)
	log.Debug("Data directory: " + yamlCfg.Directories.Data)
	log.Debug("Logs directory: " + yamlCfg.Directories.Logs)
	log.Debug("Database: " + yamlCfg.Database.Driver + " (" + yamlCfg.Database.Source + ")")

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = yamlCfg.Server.Metrics.Enabled
	metricsCfg.Token = yamlCfg.Server.Metrics.Token
	if yamlCfg.Server.Metrics.Endpoint != "" {
		metricsCfg.Endpoint = yamlCfg.Server.Metrics.Endpoint
	}
	if len(yamlCfg.Server.Metrics.DurationBuckets) > 0 {
		metricsCfg.DurationBuckets = yamlCfg.Server.Metrics.DurationBuckets
	}
	metrics.Init(metricsCfg, Version)

	// Database
	db, err := storage.NewPool(yamlCfg.Database.Driver, yamlCfg.Database.Source, yamlCfg.Database.MaxOpenConns, yamlCfg.Database.MaxIdleConns)
	if err != nil {
		exitOnError(err)
	}
	defer db.Close()

	err = retryWithBackoff(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return db.InitDB(ctx)
		},
		10,
		time.Second,
		30*time.Second,
		"Database initialization",
	)
	if err != nil {
		exitOnError(err)
	}

	tb, err := newToolbox(log, yamlCfg, db)
	if err != nil {
		exitOnError(err)
	}

	sessionSecret, err := ensureSessionSecret(yamlCfg, configFilePath)
	if err != nil {
		exitOnError(err)
	}

	cfg := config.Config{
		Log:               log,
		RateLimitTools:    netshare.NewRateLimitSystem(yamlCfg.Tools.RateLimit.PerMinute, yamlCfg.Tools.RateLimit.Burst),
		Version:           Version,
		Title:             yamlCfg.Server.Title,
		TagLine:           yamlCfg.Server.TagLine,
		Public:            yamlCfg.Server.Public,
		TrustProxy:        yamlCfg.Server.Proxy.Trust,
		PasswordFile:      yamlCfg.Security.PasswordFile,
		SessionSecret:     sessionSecret,
		SessionMaxAge:     yamlCfg.Server.Session.MaxAge,
		BruteForceMax:     yamlCfg.Security.BruteForce.MaxAttempts,
		BruteForceLockout: time.Duration(yamlCfg.Security.BruteForce.Lockout) * time.Minute,
		HistoryLimit:      yamlCfg.Database.HistoryLimit,
	}

	webData, err := web.Load(tb, cfg)
	if err != nil {
		exitOnError(err)
	}
	apiData := apiv1.Load(tb, cfg)

	mailer, err := newMailer(yamlCfg)
	if err != nil {
		exitOnError(err)
	}
	hostname, _ := os.Hostname()

	// Background jobs
	sched := scheduler.New(scheduler.Config{
		OnResult: func(task scheduler.TaskInfo, took time.Duration, err error) {
			metrics.RecordJob(task.ID, err)
			if err != nil {
				log.Error(fmt.Errorf("job %s: %w", task.ID, err))
				if mailer != nil {
					go func() {
						if err := mailer.JobFailed(hostname, task.Name, took, err); err != nil {
							log.Error(err)
						}
					}()
				}
				return
			}
			log.Debug("Job " + task.ID + " finished in " + took.Round(time.Millisecond).String())
		},
	})

	tasks, err := schedulerTasks(log, db, yamlCfg.Database.HistoryLimit, tb.Backup, yamlCfg.Backup.Jobs, func() {
		cfg.RateLimitTools.Cleanup(time.Hour)
		webData.BruteForce.Cleanup(time.Hour)
	})
	if err != nil {
		exitOnError(err)
	}
	for _, task := range tasks {
		if err := sched.AddTask(task); err != nil {
			exitOnError(err)
		}
	}
	if err := sched.Start(); err != nil {
		exitOnError(err)
	}
	defer sched.Stop()

	// Handlers
	router := mux.NewRouter()
	router.PathPrefix("/api/v1/").HandlerFunc(apiData.Hand)
	webData.Register(router)

	root := http.NewServeMux()
	root.Handle("/", router)

	if metricsCfg.Enabled {
		root.Handle(metricsCfg.Endpoint, metrics.Handler(metricsCfg))
	}

	if *flagDebug {
		root.HandleFunc("/debug/pprof/", pprof.Index)
		root.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		root.HandleFunc("/debug/pprof/profile", pprof.Profile)
		root.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		root.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	securityHeadersCfg := web.SecurityHeadersConfig{
		XFrameOptions:         yamlCfg.Security.Headers.XFrameOptions,
		XContentTypeOptions:   yamlCfg.Security.Headers.XContentTypeOptions,
		ContentSecurityPolicy: yamlCfg.Security.Headers.ContentSecurityPolicy,
		ReferrerPolicy:        yamlCfg.Security.Headers.ReferrerPolicy,
		PermissionsPolicy:     yamlCfg.Security.Headers.PermissionsPolicy,
	}

	// PanicRecovery → RequestID → Metrics → SecurityHeaders → PathSecurity → URLNormalize → App
	handler := web.PanicRecoveryMiddleware(log, *flagDebug)(
		web.RequestIDMiddleware(
			metrics.Middleware(metricsCfg)(
				web.SecurityHeadersMiddleware(securityHeadersCfg)(
					web.PathSecurityMiddleware(
						web.URLNormalizeMiddleware(root))))))

	httpPort, httpsPort, err := serverPorts(yamlCfg, configFilePath)
	if err != nil {
		exitOnError(err)
	}

	var tlsSetup *ssl.Setup
	if httpsPort > 0 {
		tlsSetup, err = ssl.Load(tlsConfig(yamlCfg))
		if err != nil {
			log.Warn("HTTPS port configured but disabled: " + err.Error())
			tlsSetup = nil
		} else {
			log.Info("HTTPS uses " + tlsSetup.String())
			if tlsSetup.Source != ssl.SourceACME && tlsSetup.NeedsRenewal(time.Now()) {
				log.Warn("TLS certificate " + tlsSetup.CertFile + " expires soon")
			}
		}
	}

	addr := listenAddress(yamlCfg.Server.Listen, strconv.Itoa(httpPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		exitOnError(fmt.Errorf("failed to bind HTTP to %s: %w", addr, err))
	}

	var httpsListener net.Listener
	httpsAddr := ""
	if tlsSetup != nil {
		httpsAddr = listenAddress(yamlCfg.Server.Listen, strconv.Itoa(httpsPort))
		httpsListener, err = net.Listen("tcp", httpsAddr)
		if err != nil {
			exitOnError(fmt.Errorf("failed to bind HTTPS to %s: %w", httpsAddr, err))
		}
	}

	printStartupBanner(Version, yamlCfg.Server.Title, configFilePath,
		yamlCfg.Database.Driver+" ("+filepath.Base(yamlCfg.Database.Source)+")", addr, yamlCfg.Server.Public)
	startTime := time.Now()
	audit.ServerStarted(Version, addr)

	timeouts := yamlCfg.Server.Timeouts
	newServer := func(h http.Handler) *http.Server {
		return &http.Server{
			Handler:      h,
			ReadTimeout:  time.Duration(timeouts.Read) * time.Second,
			WriteTimeout: time.Duration(timeouts.Write) * time.Second,
			IdleTimeout:  time.Duration(timeouts.Idle) * time.Second,
		}
	}

	// ACME challenges arrive on the plain port
	srv := newServer(tlsSetup.HTTPHandler(handler))

	err = service.Run(serviceConfig(yamlCfg), func(stop <-chan struct{}) error {
		serveErrors := make(chan error, 2)
		go func() {
			log.Info("Run HTTP server on " + addr)
			serveErrors <- srv.Serve(listener)
		}()

		var srvHTTPS *http.Server
		if httpsListener != nil {
			srvHTTPS = newServer(handler)
			srvHTTPS.TLSConfig = tlsSetup.TLS
			go func() {
				log.Info("Run HTTPS server on " + httpsAddr)
				serveErrors <- srvHTTPS.ServeTLS(httpsListener, "", "")
			}()
		}

		select {
		case err := <-serveErrors:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				audit.ServerStopped(err.Error(), time.Since(startTime))
				return err
			}
			return nil

		case <-stop:
			log.Info("Shutting down gracefully...")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			for _, s := range []*http.Server{srv, srvHTTPS} {
				if s == nil {
					continue
				}
				if err := s.Shutdown(ctx); err != nil {
					log.Error(fmt.Errorf("server shutdown error: %w", err))
					s.Close()
				}
			}

			audit.ServerStopped("shutdown", time.Since(startTime))
			log.Info("Server stopped")
			return nil
		}
	})
	if err != nil {
		audit.Close()
		exitOnError(err)
	}
}
