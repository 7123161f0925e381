// Package config provides loading and validation of the scimrelay server
// configuration from defaults, a yaml config file, environment variables and
// command-line flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SCIMRELAY"

// MysqlConfig defines configs related to MySQL.
type MysqlConfig struct {
	Protocol        string
	Address         string
	Username        string
	Password        string
	Database        string
	MaxOpenConns    int `yaml:"max_open_conns"`
	MaxIdleConns    int `yaml:"max_idle_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"`
}

// ScimConfig defines configs related to the outbound provisioning core.
type ScimConfig struct {
	// Enabled is the master switch: when false neither the event intake nor
	// the scheduler start.
	Enabled bool
	// PollInterval is the cadence of the delivery poller.
	PollInterval time.Duration `yaml:"poll_interval"`
	// TokenLifetime bounds the validity of minted bearer tokens.
	TokenLifetime time.Duration `yaml:"token_lifetime"`
	// Processor selects the event processor implementation. Only
	// "scheduled" ships with the server.
	Processor string
	// HTTPTimeout is the total timeout of one outbound SCIM request.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// BatchSize caps how many due deliveries one tick claims.
	BatchSize int `yaml:"batch_size"`
	// Workers bounds how many deliveries execute concurrently.
	Workers int
	// DrainTimeout bounds how long shutdown waits for in-flight deliveries.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	// StaleClaim is the age after which an IN_PROGRESS delivery is assumed
	// abandoned and reclaimed.
	StaleClaim time.Duration `yaml:"stale_claim"`
}

// AuthConfig defines configs related to bearer token signing. The serve
// command loads one issuer and RSA signing key for the deployment; multi-key
// setups implement scimrelay.TenantAuthority themselves.
type AuthConfig struct {
	IssuerURL      string `yaml:"issuer_url"`
	SigningKeyPath string `yaml:"signing_key_path"`
	KeyID          string `yaml:"key_id"`
}

// LoggingConfig defines configs related to logging.
type LoggingConfig struct {
	Debug bool
	JSON  bool
}

// RelayConfig stores the application configuration. Each subcategory is
// stored in a related struct, defined below. When adding a new
// configuration key, update the appropriate struct and the addConfigs and
// LoadConfig methods to keep the three in sync.
type RelayConfig struct {
	Mysql   MysqlConfig
	Scim    ScimConfig
	Auth    AuthConfig
	Logging LoggingConfig
}

// addConfigs adds the configuration keys and default values that will be
// filled into the RelayConfig struct.
func (man Manager) addConfigs() {
	// MySQL
	man.addConfigString("mysql.protocol", "tcp", "MySQL protocol (tcp, unix, ...)")
	man.addConfigString("mysql.address", "localhost:3306", "MySQL server address (host:port)")
	man.addConfigString("mysql.username", "scimrelay", "MySQL server username")
	man.addConfigString("mysql.password", "", "MySQL server password (prefer env)")
	man.addConfigString("mysql.database", "scimrelay", "MySQL database name")
	man.addConfigInt("mysql.max_open_conns", 50, "MySQL maximum open connection handles")
	man.addConfigInt("mysql.max_idle_conns", 50, "MySQL maximum idle connection handles")
	man.addConfigInt("mysql.conn_max_lifetime", 0, "MySQL maximum amount of time a connection may be reused")

	// SCIM
	man.addConfigBool("scim.enabled", true, "Enable outbound SCIM provisioning")
	man.addConfigDuration("scim.poll_interval", 5*time.Second, "Interval at which due deliveries are polled")
	man.addConfigDuration("scim.token_lifetime", 1*time.Hour, "Lifetime of minted bearer tokens")
	man.addConfigString("scim.processor", "scheduled", "Event processor implementation to run")
	man.addConfigDuration("scim.http_timeout", 30*time.Second, "Total timeout of one outbound SCIM request")
	man.addConfigInt("scim.batch_size", 100, "Maximum deliveries claimed per poll tick")
	man.addConfigInt("scim.workers", 10, "Maximum concurrently executing deliveries")
	man.addConfigDuration("scim.drain_timeout", 30*time.Second, "How long shutdown waits for in-flight deliveries")
	man.addConfigDuration("scim.stale_claim", 10*time.Minute, "Age after which an in-progress delivery is reclaimed")

	// Auth
	man.addConfigString("auth.issuer_url", "", "Issuer URL stamped into minted bearer tokens")
	man.addConfigString("auth.signing_key_path", "", "Path to the PEM-encoded RSA key used to sign bearer tokens")
	man.addConfigString("auth.key_id", "default", "Key id (kid) advertised in minted token headers")

	// Logging
	man.addConfigBool("logging.debug", false, "Enable debug logging")
	man.addConfigBool("logging.json", false, "Log in JSON format")
}

// LoadConfig will load the config variables into a fully initialized
// RelayConfig struct.
func (man Manager) LoadConfig() RelayConfig {
	man.loadConfigFile()

	return RelayConfig{
		Mysql: MysqlConfig{
			Protocol:        man.getConfigString("mysql.protocol"),
			Address:         man.getConfigString("mysql.address"),
			Username:        man.getConfigString("mysql.username"),
			Password:        man.getConfigString("mysql.password"),
			Database:        man.getConfigString("mysql.database"),
			MaxOpenConns:    man.getConfigInt("mysql.max_open_conns"),
			MaxIdleConns:    man.getConfigInt("mysql.max_idle_conns"),
			ConnMaxLifetime: man.getConfigInt("mysql.conn_max_lifetime"),
		},
		Scim: ScimConfig{
			Enabled:       man.getConfigBool("scim.enabled"),
			PollInterval:  man.getConfigDuration("scim.poll_interval"),
			TokenLifetime: man.getConfigDuration("scim.token_lifetime"),
			Processor:     man.getConfigProcessor(),
			HTTPTimeout:   man.getConfigDuration("scim.http_timeout"),
			BatchSize:     man.getConfigInt("scim.batch_size"),
			Workers:       man.getConfigInt("scim.workers"),
			DrainTimeout:  man.getConfigDuration("scim.drain_timeout"),
			StaleClaim:    man.getConfigDuration("scim.stale_claim"),
		},
		Auth: AuthConfig{
			IssuerURL:      man.getConfigString("auth.issuer_url"),
			SigningKeyPath: man.getConfigString("auth.signing_key_path"),
			KeyID:          man.getConfigString("auth.key_id"),
		},
		Logging: LoggingConfig{
			Debug: man.getConfigBool("logging.debug"),
			JSON:  man.getConfigBool("logging.json"),
		},
	}
}

// IsSet determines whether a given config key has been explicitly set by any
// of the configuration sources. If false, the default value is being used.
func (man Manager) IsSet(key string) bool {
	return man.viper.IsSet(key)
}

// Names of the event processor implementations accepted for scim.processor.
// Only ProcessorScheduled is implemented by this server; the others are
// recognized so that a deployment running an out-of-tree processor can
// disable the scheduled one.
const (
	ProcessorScheduled = "scheduled"
	ProcessorCDI       = "cdi"
	ProcessorKafka     = "kafka"
	ProcessorAMQP      = "amqp"
)

// Custom handling for scim.processor which can only accept specific values.
func (man Manager) getConfigProcessor() string {
	ival := man.getInterfaceVal("scim.processor")
	sval, err := cast.ToStringE(ival)
	if err != nil {
		panic(fmt.Sprintf("scim.processor requires a string value: %s", err.Error()))
	}
	switch sval {
	case ProcessorScheduled, ProcessorCDI, ProcessorKafka, ProcessorAMQP:
	default:
		panic(fmt.Sprintf("scim.processor must be one of %s, %s, %s or %s",
			ProcessorScheduled, ProcessorCDI, ProcessorKafka, ProcessorAMQP))
	}
	return sval
}

// envNameFromConfigKey converts a config key into the corresponding
// environment variable name.
func envNameFromConfigKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.Replace(key, ".", "_", -1))
}

// flagNameFromConfigKey converts a config key into the corresponding flag
// name.
func flagNameFromConfigKey(key string) string {
	return strings.Replace(key, ".", "_", -1)
}

// Manager manages the addition and retrieval of config values for scimrelay
// configs. Its only public API method is LoadConfig, which will return the
// populated RelayConfig struct.
type Manager struct {
	viper    *viper.Viper
	command  *cobra.Command
	defaults map[string]interface{}
}

// NewManager initializes a Manager wrapping the provided cobra command. All
// config flags will be attached to that command (and inherited by the
// subcommands). Typically this should be called just once, with the root
// command.
func NewManager(command *cobra.Command) Manager {
	man := Manager{
		viper:    viper.New(),
		command:  command,
		defaults: map[string]interface{}{},
	}
	man.addConfigs()
	return man
}

// addDefault will check for duplication, then add a default value to the
// defaults map.
func (man Manager) addDefault(key string, defVal interface{}) {
	if _, exists := man.defaults[key]; exists {
		panic("Trying to add duplicate config for key " + key)
	}

	man.defaults[key] = defVal
}

func getFlagUsage(key string, usage string) string {
	return fmt.Sprintf("Env: %s\n\t\t%s", envNameFromConfigKey(key), usage)
}

// getInterfaceVal is a helper function used by the getConfig* functions to
// retrieve the config value as interface{}, which will then be cast to the
// appropriate type by the getConfig* function.
func (man Manager) getInterfaceVal(key string) interface{} {
	interfaceVal := man.viper.Get(key)
	if interfaceVal == nil {
		var ok bool
		interfaceVal, ok = man.defaults[key]
		if !ok {
			panic("Tried to look up default value for nonexistent config option: " + key)
		}
	}
	return interfaceVal
}

// addConfigString adds a string config to the config options.
func (man Manager) addConfigString(key, defVal, usage string) {
	man.command.PersistentFlags().String(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.viper.BindPFlag(key, man.command.PersistentFlags().Lookup(flagNameFromConfigKey(key)))
	man.viper.BindEnv(key, envNameFromConfigKey(key))

	man.addDefault(key, defVal)
}

// getConfigString retrieves a string from the loaded config.
func (man Manager) getConfigString(key string) string {
	interfaceVal := man.getInterfaceVal(key)
	stringVal, err := cast.ToStringE(interfaceVal)
	if err != nil {
		panic("Unable to cast to string for key " + key + ": " + err.Error())
	}

	return stringVal
}

// addConfigInt adds an int config to the config options.
func (man Manager) addConfigInt(key string, defVal int, usage string) {
	man.command.PersistentFlags().Int(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.viper.BindPFlag(key, man.command.PersistentFlags().Lookup(flagNameFromConfigKey(key)))
	man.viper.BindEnv(key, envNameFromConfigKey(key))

	man.addDefault(key, defVal)
}

// getConfigInt retrieves an int from the loaded config.
func (man Manager) getConfigInt(key string) int {
	interfaceVal := man.getInterfaceVal(key)
	intVal, err := cast.ToIntE(interfaceVal)
	if err != nil {
		panic("Unable to cast to int for key " + key + ": " + err.Error())
	}

	return intVal
}

// addConfigBool adds a bool config to the config options.
func (man Manager) addConfigBool(key string, defVal bool, usage string) {
	man.command.PersistentFlags().Bool(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.viper.BindPFlag(key, man.command.PersistentFlags().Lookup(flagNameFromConfigKey(key)))
	man.viper.BindEnv(key, envNameFromConfigKey(key))

	man.addDefault(key, defVal)
}

// getConfigBool retrieves a bool from the loaded config.
func (man Manager) getConfigBool(key string) bool {
	interfaceVal := man.getInterfaceVal(key)
	boolVal, err := cast.ToBoolE(interfaceVal)
	if err != nil {
		panic("Unable to cast to bool for key " + key + ": " + err.Error())
	}

	return boolVal
}

// addConfigDuration adds a duration config to the config options.
func (man Manager) addConfigDuration(key string, defVal time.Duration, usage string) {
	man.command.PersistentFlags().Duration(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.viper.BindPFlag(key, man.command.PersistentFlags().Lookup(flagNameFromConfigKey(key)))
	man.viper.BindEnv(key, envNameFromConfigKey(key))

	man.addDefault(key, defVal)
}

// getConfigDuration retrieves a duration from the loaded config.
func (man Manager) getConfigDuration(key string) time.Duration {
	interfaceVal := man.getInterfaceVal(key)
	durationVal, err := cast.ToDurationE(interfaceVal)
	if err != nil {
		panic("Unable to cast to duration for key " + key + ": " + err.Error())
	}

	return durationVal
}

// loadConfigFile handles the loading of the config file.
func (man Manager) loadConfigFile() {
	man.viper.SetConfigType("yaml")

	configFile := man.command.PersistentFlags().Lookup("config").Value.String()

	if configFile == "" {
		// No config file set, only use configs from env vars/flags/defaults.
		return
	}

	man.viper.SetConfigFile(configFile)
	err := man.viper.ReadInConfig()
	if err != nil {
		fmt.Println("Error loading config file:", err)
		os.Exit(1)
	}

	fmt.Println("Using config file: ", man.viper.ConfigFileUsed())
}

// TestConfig returns a barebones configuration suitable for use in tests.
// Individual tests may want to override some of the values provided.
func TestConfig() RelayConfig {
	return RelayConfig{
		Scim: ScimConfig{
			Enabled:       true,
			PollInterval:  5 * time.Second,
			TokenLifetime: 1 * time.Hour,
			Processor:     ProcessorScheduled,
			HTTPTimeout:   30 * time.Second,
			BatchSize:     100,
			Workers:       10,
			DrainTimeout:  30 * time.Second,
			StaleClaim:    10 * time.Minute,
		},
		Auth: AuthConfig{
			IssuerURL: "https://auth.test.example.com",
			KeyID:     "test",
		},
		Logging: LoggingConfig{
			Debug: true,
		},
	}
}
