package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Email backends
const (
	EmailConsole  = "console"
	EmailSMTP     = "smtp"
	EmailSendgrid = "sendgrid"
)

// Results backends
const (
	ResultsSheets = "sheets"
	ResultsSQL    = "sql"
	ResultsMemory = "memory"
)

type Config struct {
	Env          string
	Build        string
	Debug        bool
	TestMode     bool
	AppName      string
	SecretKey    string
	RollbarToken string

	Server struct {
		Address         string
		DebugHost       string
		ShutdownTimeout time.Duration
		SessionTTL      time.Duration
		SecureCookie    bool
	}

	Course struct {
		File string
	}

	Roster struct {
		File  string
		Watch bool
	}

	Email struct {
		Backend        string
		Host           string
		Port           int
		Username       string
		Password       string
		From           string
		SendgridAPIKey string
	}

	Results struct {
		Backend            string
		SheetName          string
		SpreadsheetID      string
		CredentialsFile    string
		DBDriver           string
		DBURL              string
		MaxConflictRetries int
	}

	Auth struct {
		MaxCodeAttempts int
		CodeTTL         time.Duration
	}
}

// NewConfig reads the configuration from the environment, optionally seeded from `config/.env.<env>`.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Peer Eval")
	v.SetDefault("secretKey", "7w!k1z$u3q@r0+b9n=c#t4e^y6p(m)x2h8d5s&j-l")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.sessionTTL", 12*time.Hour)
	v.SetDefault("server.secureCookie", false)
	v.SetDefault("course.file", "")
	v.SetDefault("roster.file", "students.csv")
	v.SetDefault("roster.watch", false)
	v.SetDefault("email.backend", EmailConsole)
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 465)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.sendgridApiKey", "")
	v.SetDefault("results.backend", ResultsMemory)
	v.SetDefault("results.sheetName", "MECE 2860U Results")
	v.SetDefault("results.spreadsheetId", "")
	v.SetDefault("results.credentialsFile", "")
	v.SetDefault("results.dbDriver", "postgres")
	v.SetDefault("results.dbUrl", "")
	v.SetDefault("results.maxConflictRetries", 3)
	v.SetDefault("auth.maxCodeAttempts", 0)
	v.SetDefault("auth.codeTTL", time.Duration(0))
	v.SetDefault("rollbarToken", "")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:          env,
		Build:        v.GetString("build"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		AppName:      v.GetString("appName"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
	}

	conf.Server.Address = v.GetString("server.address")
	conf.Server.DebugHost = v.GetString("server.debugHost")
	conf.Server.ShutdownTimeout = v.GetDuration("server.shutdownTimeout")
	conf.Server.SessionTTL = v.GetDuration("server.sessionTTL")
	conf.Server.SecureCookie = v.GetBool("server.secureCookie")

	conf.Course.File = v.GetString("course.file")

	conf.Roster.File = v.GetString("roster.file")
	conf.Roster.Watch = v.GetBool("roster.watch")

	conf.Email.Backend = CleanString(v.GetString("email.backend"), true /* lower */)
	conf.Email.Host = v.GetString("email.host")
	conf.Email.Port = v.GetInt("email.port")
	conf.Email.Username = v.GetString("email.username")
	conf.Email.Password = v.GetString("email.password")
	conf.Email.From = v.GetString("email.from")
	conf.Email.SendgridAPIKey = v.GetString("email.sendgridApiKey")

	conf.Results.Backend = CleanString(v.GetString("results.backend"), true /* lower */)
	conf.Results.SheetName = v.GetString("results.sheetName")
	conf.Results.SpreadsheetID = v.GetString("results.spreadsheetId")
	conf.Results.CredentialsFile = v.GetString("results.credentialsFile")
	conf.Results.DBDriver = CleanString(v.GetString("results.dbDriver"), true /* lower */)
	conf.Results.DBURL = v.GetString("results.dbUrl")
	conf.Results.MaxConflictRetries = v.GetInt("results.maxConflictRetries")

	conf.Auth.MaxCodeAttempts = v.GetInt("auth.maxCodeAttempts")
	conf.Auth.CodeTTL = v.GetDuration("auth.codeTTL")

	return conf
}

// FromEmail returns the sender address of outgoing mail.
// The relay username is used when no explicit sender is configured.
func (conf *Config) FromEmail() mail.Address {
	addr := conf.Email.From
	if addr == "" {
		addr = conf.Email.Username
	}
	if parsed, err := mail.ParseAddress(addr); err == nil {
		if parsed.Name == "" {
			parsed.Name = conf.AppName
		}
		return *parsed
	}
	return mail.Address{Name: conf.AppName, Address: addr}
}

// Validate reports every missing option required by the selected backends.
func (conf *Config) Validate() error {
	var missing []string
	require := func(key, val string) {
		if CleanString(val) == "" {
			missing = append(missing, key)
		}
	}

	require("roster.file", conf.Roster.File)

	switch conf.Email.Backend {
	case EmailConsole:
	case EmailSMTP:
		require("email.host", conf.Email.Host)
		require("email.username", conf.Email.Username)
		require("email.password", conf.Email.Password)
		if conf.Email.Port <= 0 {
			missing = append(missing, "email.port")
		}
	case EmailSendgrid:
		require("email.sendgridApiKey", conf.Email.SendgridAPIKey)
		require("email.from", conf.Email.From)
	default:
		return NewConfigError("unknown email backend %q", conf.Email.Backend)
	}

	switch conf.Results.Backend {
	case ResultsMemory:
	case ResultsSheets:
		require("results.credentialsFile", conf.Results.CredentialsFile)
		if conf.Results.SpreadsheetID == "" {
			require("results.sheetName", conf.Results.SheetName)
		}
	case ResultsSQL:
		require("results.dbUrl", conf.Results.DBURL)
		switch conf.Results.DBDriver {
		case "postgres", "sqlite":
		default:
			return NewConfigError("unknown database driver %q", conf.Results.DBDriver)
		}
	default:
		return NewConfigError("unknown results backend %q", conf.Results.Backend)
	}

	if len(missing) > 0 {
		return NewConfigError("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
