// Description: This is the main file of the vfsftpd server
// The main function starts the ftp server on a virtual directory tree, and optionally
// the sftp server and the http server (metrics and file browser) on the same tree.
// Everything is configured from the environment, see config.GetEnv

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/telebroad/vfsftpd/config"
	"github.com/telebroad/vfsftpd/filesystem"
	"github.com/telebroad/vfsftpd/ftp"
	"github.com/telebroad/vfsftpd/httphandler"
	"github.com/telebroad/vfsftpd/metrics"
	"github.com/telebroad/vfsftpd/sftp"
	"github.com/telebroad/vfsftpd/users"
)

func main() {
	// setting up the slog logger
	logger := setupLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	env, err := config.GetEnv(logger)
	if err != nil {
		return fmt.Errorf("error getting environment: %w", err)
	}

	auth := newAuthenticator(env, logger)
	root, err := newRoot(env.FtpServerRoot)
	if err != nil {
		return err
	}
	collector := metrics.New(true)

	// ftp server
	ftpServer, err := ftp.NewServer(env.FtpAddr, root, auth)
	if err != nil {
		return fmt.Errorf("error creating ftp server: %w", err)
	}
	ftpServer.SetLogger(logger.With("module", "ftp-server"))
	// setting the public server ip for passive mode
	if err := ftpServer.SetPasvHost(env.FtpPasvHost); err != nil {
		return fmt.Errorf("error setting passive host: %w", err)
	}
	// setting the passive ports range
	ftpServer.PasvMinPort = env.PasvMinPort
	ftpServer.PasvMaxPort = env.PasvMaxPort
	ftpServer.AcceptTimeout = env.PasvTimeout
	ftpServer.Metrics = collector

	if err := ftpServer.TryListenAndServe(time.Second); err != nil {
		return fmt.Errorf("error starting ftp server: %w", err)
	}
	logger.Info("FTP server started", "addr", env.FtpAddr, "pasv-host", env.FtpPasvHost)
	defer ftpServer.Close(errors.New("ftp server closed by signal"))

	// sftp server
	if env.SftpAddr != "" {
		hostKey, err := sftp.LoadOrGenerateHostKey(env.SftpKeyFile)
		if err != nil {
			return fmt.Errorf("error loading sftp host key: %w", err)
		}
		sftpServer := sftp.NewSFTPServer(env.SftpAddr, root, auth)
		sftpServer.SetLogger(logger.With("module", "sftp-server"))
		sftpServer.SetPrivateKey(hostKey)
		if err := sftpServer.TryListenAndServe(time.Second); err != nil {
			return fmt.Errorf("error starting sftp server: %w", err)
		}
		logger.Info("SFTP server started", "addr", env.SftpAddr)
		defer sftpServer.Close()
	}

	// http server with the metrics and a file browser
	if env.HttpAddr != "" {
		fileServer := httphandler.NewFileServerHandler("/files", root, auth)
		fileServer.SetLogger(logger.With("module", "http-server-handler"))

		router := http.NewServeMux()
		router.Handle("/metrics", collector.Handler())
		router.Handle("/files/", fileServer)
		router.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "<html><body>")
			fmt.Fprintf(w, "<h1>Welcome to the vfsftpd server</h1>")
			fmt.Fprintf(w, `<h2>file browser is at <a href="/files/">/files</a>, metrics at <a href="/metrics">/metrics</a></h2>`)
			fmt.Fprintf(w, "</body></html>")
		})

		httpServer := &httphandler.Server{
			Server: &http.Server{
				Addr:              env.HttpAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			},
		}
		// try is the same of listen and serve but with a timeout if no error is returned it returns nil
		if err := httpServer.TryListenAndServe(time.Second); err != nil {
			return fmt.Errorf("error starting http server: %w", err)
		}
		logger.Info("HTTP server started", "addr", env.HttpAddr)
		defer func() {
			ctx, cancel := context.WithTimeoutCause(context.Background(), 5*time.Second, errors.New("http server closed by signal"))
			defer cancel()
			_ = httpServer.Shutdown(ctx)
		}()
	}

	// graceful shutdown all servers
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	sig := <-stopChan
	logger.Info("shutting down", "signal", sig.String())
	return nil
}

func setupLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	AddSource := false
	switch level {
	case "DEBUG":
		logLevel = slog.LevelDebug
		AddSource = true
	case "INFO":
		logLevel = slog.LevelInfo
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	}

	handlerOptions := &tint.Options{
		AddSource:  AddSource,
		Level:      logLevel, // Only log messages of level INFO and above
		TimeFormat: time.DateTime,
	}

	handler := tint.NewHandler(os.Stdout, handlerOptions)

	logger := slog.New(handler).With("app", "vfsftpd")
	logger.Info("Logger initialized", "level", logLevel)

	return logger
}

// newAuthenticator returns the FTP_USERS table when it is set, the shared FTP_SECRET otherwise
func newAuthenticator(env *config.Environment, logger *slog.Logger) users.Authenticator {
	if len(env.FtpUsers) == 0 {
		logger.Info("FTP_USERS is empty, any user name is accepted with FTP_SECRET")
		return users.SharedSecret(env.FtpSecret)
	}
	table := users.NewLocalUsers()
	for name, pass := range env.FtpUsers {
		table.Add(name, pass)
	}
	logger.Info("loaded users", "users", table.List())
	return table
}

// newRoot serves rootDir from disk, or the demo tree in memory when rootDir is empty
func newRoot(rootDir string) (filesystem.Directory, error) {
	if rootDir == "" {
		return demoTree()
	}
	localFS := filesystem.NewLocalFS(rootDir)
	if err := localFS.CheckDir(); err != nil {
		return nil, fmt.Errorf("error checking FTP_SERVER_ROOT: %w", err)
	}
	return localFS.Root(), nil
}

// demoTree is root/test holding the directory isi and the files Test1 to Test3
func demoTree() (filesystem.Directory, error) {
	root := filesystem.NewDirectory("root")
	test := filesystem.NewDirectory("test")
	if err := root.AddDirectory(test); err != nil {
		return nil, err
	}
	if err := test.AddDirectory(filesystem.NewDirectory("isi")); err != nil {
		return nil, err
	}
	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("Test%d", i)
		if err := test.AddFile(filesystem.NewFile(name, []byte("content of "+name))); err != nil {
			return nil, err
		}
	}
	return root, nil
}
