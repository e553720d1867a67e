package run

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const epilogueHeader = `
Notes:

`

const settingsEpilogue = `- When a flag can be set via environment variable, the variable name is given
  in parenthesis at the end of the flag explanation. A flag, when specified,
  overrides the environment variable, which in turn overrides the config file.
`

/*
	The package initializer sets up logging based on logrus. The following
	environment variables can be used to configure logging:

		LOG_FORMAT		set to `json` for JSON logging
		LOG_FORCE_COLORS	set to non-empty for forcing colorized log entries
		LOG_METHODS		set to non-empty for including methods in log
		LOG_LEVEL		`panic`, `fatal`, `error`, `warn`, `info`, `debug`, `trace`

	The log.level and log.format settings override these once the
	configuration has been read.
*/
func init() {

	log.SetOutput(os.Stderr)

	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else if os.Getenv("LOG_FORCE_COLORS") != "" {
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}

	if os.Getenv("LOG_METHODS") != "" {
		log.SetReportCaller(true)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		setLogLevel(level)
	}
}

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Errorf("invalid log level: '%s'; valid levels are: panic, "+
			"fatal, error, warn, info, debug, trace", level)
		return
	}
	log.SetLevel(l)
}

var UnderTest bool

// DieOnError exits the running process if e is not nil. The error gets logged.
func DieOnError(e error) {
	if e != nil {
		fmt.Fprintf(os.Stderr, "%v\n", e)
		if UnderTest {
			panic(e.Error())
		}
		os.Exit(1)
	}
}

// Die exits the running process, while logging the given message.
func Die(msg string, params ...interface{}) {
	DieOnError(fmt.Errorf(msg, params...))
}

/*
	NewCommand creates a base command instance, wrapping a new Cobra command.
	The exec function is invoked with the positional arguments when the
	command runs.
*/
func NewCommand(use, short, long, helpPrologue, helpEpilogue string,
	args cobra.PositionalArgs,
	exec func(cmd *cobra.Command, args []string) error) *Command {

	ret := Command{
		cmd: &cobra.Command{
			Use:                   use,
			Short:                 short,
			Long:                  long,
			Args:                  args,
			SilenceErrors:         true,
			SilenceUsage:          true,
			DisableFlagsInUseLine: true,
		},
		helpPrologue: helpPrologue,
		helpEpilogue: helpEpilogue,
	}
	if exec != nil {
		ret.cmd.RunE = exec
	}
	ret.helpFunc = ret.cmd.HelpFunc()
	ret.cmd.SetHelpFunc(ret.help)
	return &ret
}

// Command is a thin wrapper around a Cobra command whose settings live in
// Viper, so that each one can come from flag, environment, or config file.
type Command struct {
	cmd          *cobra.Command
	helpPrologue string
	helpEpilogue string
	helpFunc     func(*cobra.Command, []string)
}

func (c *Command) help(cmd *cobra.Command, args []string) {
	if c.helpPrologue != "" {
		fmt.Fprintln(cmd.OutOrStdout(), c.helpPrologue)
	}
	if c.helpFunc != nil {
		c.helpFunc(cmd, args)
	}
	if c.helpEpilogue != "" {
		fmt.Fprintln(cmd.OutOrStdout(), epilogueHeader+c.helpEpilogue)
	} else {
		fmt.Fprintln(cmd.OutOrStdout())
	}
}

// Execute runs the command. If args is of non-zero length, it overrides
// os.Args.
func (c *Command) Execute(args []string) error {
	if len(args) > 0 {
		c.cmd.SetArgs(args)
	}
	return c.cmd.Execute()
}

func (c *Command) AddCommand(sub *Command) {
	c.cmd.AddCommand(sub.cmd)
}

/*
	AddSetting defines a flag for the configuration key and binds the two in
	Viper. The flag's type follows the type of def, which is also shown as the
	default in the help text. Persistent flags are inherited by subcommands.
*/
func (c *Command) AddSetting(key, flag, short string, def interface{},
	help string, persistent bool) {

	flags := c.cmd.Flags()
	if persistent {
		flags = c.cmd.PersistentFlags()
	}

	help = fmt.Sprintf("%s (%s)", help, envName(key))
	if err := addFlag(flags, flag, short, def, help); err != nil {
		Die("setting '%s': %v", key, err)
	}

	log.Tracef("add setting: key=%s, flag=%s", key, flag)
	DieOnError(viper.BindPFlag(key, flags.Lookup(flag)))
}

func addFlag(flags *pflag.FlagSet, flag, short string, def interface{},
	help string) error {

	switch v := def.(type) {
	case string:
		flags.StringP(flag, short, v, help)
	case bool:
		flags.BoolP(flag, short, v, help)
	case int:
		flags.IntP(flag, short, v, help)
	case uint:
		flags.UintP(flag, short, v, help)
	case uint32:
		flags.Uint32P(flag, short, v, help)
	case int64:
		flags.Int64P(flag, short, v, help)
	case time.Duration:
		flags.DurationP(flag, short, v, help)
	default:
		return fmt.Errorf("unsupported type %T", def)
	}
	return nil
}
