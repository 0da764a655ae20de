package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidEnv is wrapped by every GetEnv error caused by a malformed variable
var ErrInvalidEnv = errors.New("invalid environment")

// Environment is the environment of the server
type Environment struct {
	FtpAddr       string
	FtpPasvHost   string
	PasvMinPort   int
	PasvMaxPort   int
	PasvTimeout   time.Duration
	FtpSecret     string
	FtpUsers      map[string]string
	FtpServerRoot string
	SftpAddr      string
	SftpKeyFile   string
	HttpAddr      string
	LogLevel      string
}

// lookup returns the variable or def when it is unset or empty
func lookup(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func lookupInt(key string, def int) (int, error) {
	v := lookup(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidEnv, key, v)
	}
	return n, nil
}

// ParseUsers parses a "name:pass,name:pass" table, entries without a colon are rejected
func ParseUsers(s string) (map[string]string, error) {
	table := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, pass, ok := strings.Cut(pair, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: user entry %q is not name:pass", ErrInvalidEnv, pair)
		}
		table[name] = pass
	}
	return table, nil
}

// GetEnv returns a new Environment with the environment variables
func GetEnv(logger *slog.Logger) (env *Environment, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	env = &Environment{}
	env.FtpAddr = lookup("FTP_SERVER_ADDR", ":2121")
	env.FtpServerRoot = lookup("FTP_SERVER_ROOT", "")
	env.SftpAddr = lookup("SFTP_SERVER_ADDR", "")
	env.SftpKeyFile = lookup("SFTP_KEY_FILE", "")
	env.HttpAddr = lookup("HTTP_SERVER_ADDR", "")
	env.LogLevel = lookup("LOG_LEVEL", "INFO")
	env.FtpSecret = lookup("FTP_SECRET", "123")

	logger.Debug("FTP_SERVER_ADDR is", "ADDR", env.FtpAddr)
	logger.Debug("FTP_SERVER_ROOT is", "ROOT", env.FtpServerRoot)
	logger.Debug("SFTP_SERVER_ADDR is", "ADDR", env.SftpAddr)
	logger.Debug("HTTP_SERVER_ADDR is", "ADDR", env.HttpAddr)

	// this is the public ip of the server FOR PASV mode
	env.FtpPasvHost = lookup("FTP_PASV_HOST", "127.0.0.1")
	if strings.EqualFold(env.FtpPasvHost, "public") {
		logger.Info("FTP_PASV_HOST is public, getting public ip from ipify.org")
		env.FtpPasvHost, err = GetServerPublicIP(context.Background())
		if err != nil {
			return nil, fmt.Errorf("error getting public ip: %w", err)
		}
	}
	logger.Debug("FTP_PASV_HOST is", "IP", env.FtpPasvHost)

	// convert port string to int
	if env.PasvMinPort, err = lookupInt("PASV_MIN_PORT", 1024); err != nil {
		return nil, err
	}
	if env.PasvMaxPort, err = lookupInt("PASV_MAX_PORT", 65536); err != nil {
		return nil, err
	}
	if env.PasvMinPort > env.PasvMaxPort {
		return nil, fmt.Errorf("%w: PASV_MIN_PORT %d is above PASV_MAX_PORT %d", ErrInvalidEnv, env.PasvMinPort, env.PasvMaxPort)
	}
	logger.Debug("PASV_MIN_PORT is", "PORT", env.PasvMinPort)
	logger.Debug("PASV_MAX_PORT is", "PORT", env.PasvMaxPort)

	timeout := lookup("PASV_TIMEOUT", "500ms")
	env.PasvTimeout, err = time.ParseDuration(timeout)
	if err != nil || env.PasvTimeout <= 0 {
		return nil, fmt.Errorf("%w: PASV_TIMEOUT=%q is not a positive duration", ErrInvalidEnv, timeout)
	}

	env.FtpUsers, err = ParseUsers(os.Getenv("FTP_USERS"))
	if err != nil {
		return nil, err
	}
	logger.Debug("FTP_USERS loaded", "count", len(env.FtpUsers))

	return env, nil
}
