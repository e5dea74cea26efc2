// Package workspace locates msgrun.yaml, loads configuration and builds the
// template, session and variable catalogs a run needs.
//
// Configuration precedence: MSGRUN_* environment variables (after loading
// an optional .env next to the config file) > msgrun.yaml > defaults.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ormasoftchile/msgrun/pkg/kernel/engine"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/template"
	"github.com/ormasoftchile/msgrun/pkg/kernel/validate"
	"github.com/ormasoftchile/msgrun/pkg/kernel/variables"
	"github.com/ormasoftchile/msgrun/pkg/transport"
	"github.com/ormasoftchile/msgrun/pkg/transport/memory"
	"github.com/ormasoftchile/msgrun/pkg/transport/sioconn"
	"github.com/ormasoftchile/msgrun/pkg/transport/wsconn"
)

// FileName is the workspace config file looked up from the script directory upward.
const FileName = "msgrun.yaml"

// EnvPrefix prefixes environment overrides, e.g. MSGRUN_MAX_MESSAGES.
const EnvPrefix = "MSGRUN"

// Config is the resolved workspace configuration. Paths are absolute.
type Config struct {
	TemplatesDir            string    `mapstructure:"templates_dir"`
	VariablesFile           string    `mapstructure:"variables_file"`
	SessionsFile            string    `mapstructure:"sessions_file"`
	DataDir                 string    `mapstructure:"data_dir"`
	MaxMessages             int       `mapstructure:"max_messages"`
	ClearLogBeforeExecution bool      `mapstructure:"clear_log_before_execution"`
	Log                     LogConfig `mapstructure:"log"`
	TraceDir                string    `mapstructure:"trace_dir"`
	RunsDir                 string    `mapstructure:"runs_dir"`

	// Root is the directory holding msgrun.yaml, or the start directory
	// when none was found. Not read from the file.
	Root string `mapstructure:"-"`
	// File is the config file used, empty when running on defaults.
	File string `mapstructure:"-"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Factories are the transports a sessions file may name.
var Factories = map[string]transport.Factory{
	"memory":    memory.New,
	"websocket": wsconn.New,
	"socketio":  sioconn.New,
}

// Discover walks up from start looking for msgrun.yaml. It returns "" when
// none is found.
func Discover(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	dir := abs
	if !info.IsDir() {
		dir = filepath.Dir(abs)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Load reads configuration for a workspace. configFile may be empty, in
// which case it is discovered from start.
func Load(configFile, start string) (*Config, error) {
	if configFile == "" && start != "" {
		found, err := Discover(start)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", FileName, err)
		}
		configFile = found
	}

	root := start
	if configFile != "" {
		root = filepath.Dir(configFile)
	} else if root != "" {
		if info, err := os.Stat(root); err == nil && !info.IsDir() {
			root = filepath.Dir(root)
		}
	}
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if err := loadDotEnv(filepath.Join(root, ".env")); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetDefault("templates_dir", "templates")
	v.SetDefault("variables_file", "variables.yaml")
	v.SetDefault("sessions_file", "sessions.yaml")
	v.SetDefault("data_dir", "")
	v.SetDefault("max_messages", 0)
	v.SetDefault("clear_log_before_execution", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("trace_dir", "")
	v.SetDefault("runs_dir", ".msgrun/runs")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", configFile, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.MaxMessages < 0 {
		return nil, fmt.Errorf("max_messages must not be negative, got %d", c.MaxMessages)
	}
	c.Root = root
	c.File = configFile
	for _, p := range []*string{&c.TemplatesDir, &c.VariablesFile, &c.SessionsFile, &c.DataDir, &c.TraceDir, &c.RunsDir} {
		*p = c.abs(*p)
	}
	return &c, nil
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Config) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Templates returns the template catalog rooted at templates_dir.
func (c *Config) Templates() *template.DirCatalog {
	return template.NewDirCatalog(c.TemplatesDir)
}

// Variables loads the variables catalog. A missing file yields an empty catalog.
func (c *Config) Variables() (variables.MapCatalog, error) {
	if _, err := os.Stat(c.VariablesFile); errors.Is(err, os.ErrNotExist) {
		return variables.MapCatalog{}, nil
	}
	return variables.LoadCatalog(c.VariablesFile)
}

// SessionDefs loads the session definitions. A missing file yields none.
func (c *Config) SessionDefs() ([]schema.SessionDef, error) {
	if _, err := os.Stat(c.SessionsFile); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	sf, err := schema.LoadSessionsFile(c.SessionsFile)
	if err != nil {
		return nil, err
	}
	return sf.Sessions, nil
}

// Sessions builds the session registry from factories.
func (c *Config) Sessions(factories map[string]transport.Factory) (*transport.Registry, error) {
	defs, err := c.SessionDefs()
	if err != nil {
		return nil, err
	}
	return transport.NewRegistry(defs, factories)
}

// Catalogs assembles the engine catalogs for a script file using the
// built-in transports.
func (c *Config) Catalogs(scriptPath string) (engine.Catalogs, *transport.Registry, error) {
	return c.CatalogsWith(scriptPath, Factories)
}

// CatalogsWith is Catalogs with explicit transport factories. Data files
// resolve against data_dir, or the script's directory when unset.
func (c *Config) CatalogsWith(scriptPath string, factories map[string]transport.Factory) (engine.Catalogs, *transport.Registry, error) {
	vars, err := c.Variables()
	if err != nil {
		return engine.Catalogs{}, nil, err
	}
	reg, err := c.Sessions(factories)
	if err != nil {
		return engine.Catalogs{}, nil, err
	}
	dataDir := c.DataDir
	if dataDir == "" && scriptPath != "" {
		dataDir = filepath.Dir(scriptPath)
	}
	return engine.Catalogs{
		Templates: c.Templates(),
		Sessions:  reg,
		Variables: vars,
		DataDir:   dataDir,
	}, reg, nil
}

// ValidationCatalogs returns the references the static checker resolves
// against. Catalog files that fail to load are skipped with their error.
func (c *Config) ValidationCatalogs() (validate.Catalogs, []error) {
	var errs []error
	cat := validate.Catalogs{}
	if info, err := os.Stat(c.TemplatesDir); err == nil && info.IsDir() {
		cat.Templates = c.Templates()
	}
	if vars, err := c.Variables(); err != nil {
		errs = append(errs, err)
	} else if len(vars) > 0 {
		cat.Variables = vars
	}
	if defs, err := c.SessionDefs(); err != nil {
		errs = append(errs, err)
	} else if defs != nil {
		cat.Sessions = defs
	}
	return cat, errs
}
