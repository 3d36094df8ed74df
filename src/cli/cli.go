// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every flag name when looking up environment variables.
const EnvPrefix = "VLABSTOOLS_"

var (
	errHelp    = errors.New("help requested")
	errVersion = errors.New("version requested")
)

// envName converts a flag name to its environment variable.
// Example: "db-driver" -> "VLABSTOOLS_DB_DRIVER"
func envName(name string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

type variable struct {
	name        string
	cliFlagName string

	preHook func(string) (string, error)

	value        interface{}
	valueDefault string
	required     bool
	usage        string
}

type CLI struct {
	version string
	out     io.Writer
	getenv  func(string) string

	vars []variable
	args []string
}

type FlagOptions struct {
	Required bool
	PreHook  func(string) (string, error)
}

func New(version string) *CLI {
	return &CLI{
		version: version,
		out:     os.Stdout,
		getenv:  os.Getenv,
		vars:    []variable{},
	}
}

func (c *CLI) addVar(name string, value interface{}, defValue string, usage string, opts *FlagOptions) {
	if name == "" {
		panic("cli: add variable: variable name could not be empty")
	}
	if usage == "" {
		panic("cli: flag \"" + name + "\" has empty \"usage\" field")
	}
	if opts == nil {
		opts = &FlagOptions{}
	}

	c.vars = append(c.vars, variable{
		name:         name,
		cliFlagName:  "-" + name,
		preHook:      opts.PreHook,
		value:        value,
		valueDefault: defValue,
		required:     opts.Required,
		usage:        usage,
	})
}

func applyPreHook(name string, defValue string, opts *FlagOptions) string {
	if opts == nil || opts.PreHook == nil {
		return defValue
	}

	val, err := opts.PreHook(defValue)
	if err != nil {
		panic("cli: add variable \"" + name + "\": " + err.Error())
	}
	return val
}

func (c *CLI) AddStringVar(name, defValue string, usage string, opts *FlagOptions) *string {
	defValue = applyPreHook(name, defValue, opts)
	val := &defValue
	c.addVar(name, val, defValue, usage, opts)
	return val
}

func (c *CLI) AddBoolVar(name string, usage string) *bool {
	valVar := false
	val := &valVar
	c.addVar(name, val, "", usage, nil)
	return val
}

func (c *CLI) AddIntVar(name string, defValue int, usage string, opts *FlagOptions) *int {
	val := &defValue
	c.addVar(name, val, strconv.Itoa(defValue), usage, opts)
	return val
}

func (c *CLI) AddUintVar(name string, defValue uint, usage string, opts *FlagOptions) *uint {
	val := &defValue
	c.addVar(name, val, strconv.FormatUint(uint64(defValue), 10), usage, opts)
	return val
}

func (c *CLI) AddDurationVar(name, defValue string, usage string, opts *FlagOptions) *time.Duration {
	defValue = applyPreHook(name, defValue, opts)

	valDuration, err := ParseDuration(defValue)
	if err != nil {
		panic("cli: add duration variable \"" + name + "\": " + err.Error())
	}

	val := &valDuration
	c.addVar(name, val, defValue, usage, opts)
	return val
}

// Args returns the positional arguments left after flag parsing.
func (c *CLI) Args() []string {
	return c.args
}

func writeVar(val string, to interface{}, preHook func(string) (string, error)) error {
	if preHook != nil {
		var err error
		val, err = preHook(val)
		if err != nil {
			return err
		}
	}

	switch to := to.(type) {
	case *string:
		*to = val

	case *int:
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		*to = n

	case *bool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		*to = b

	case *uint:
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return err
		}
		*to = uint(n)

	case *time.Duration:
		d, err := ParseDuration(val)
		if err != nil {
			return err
		}
		*to = d

	default:
		panic("cli: write variable: unknown \"to\" argument type")
	}

	return nil
}

func (c *CLI) printHelp() {
	var maxFlagSize int
	var reqFlags string

	for _, v := range c.vars {
		if len(v.cliFlagName) > maxFlagSize {
			maxFlagSize = len(v.cliFlagName)
		}
		if v.required {
			reqFlags += "[" + v.cliFlagName + "] "
		}
	}

	fmt.Fprintln(c.out, "Usage:", os.Args[0], reqFlags+"[OPTION]... [HOST]")
	fmt.Fprintln(c.out)

	for _, v := range c.vars {
		spaces := strings.Repeat(" ", maxFlagSize-len(v.cliFlagName)+2)

		var defaultStr string
		if v.valueDefault != "" {
			defaultStr = " (default: " + v.valueDefault + ")"
		}

		fmt.Fprintln(c.out, " ", v.cliFlagName, spaces, v.usage+defaultStr)
	}

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "  Every flag can also be set with "+EnvPrefix+"<FLAG> environment variables.")
	fmt.Fprintln(c.out, "  -version   Display version and exit.")
	fmt.Fprintln(c.out, "  -help      Display this help and exit.")
}

// normalizeFlag converts --flag to -flag
func normalizeFlag(arg string) string {
	if strings.HasPrefix(arg, "--") {
		return strings.TrimPrefix(arg, "-")
	}
	return arg
}

// ParseArgs reads environment variables first, then args, which override them.
func (c *CLI) ParseArgs(args []string) error {
	// Names read from env or flags, used for the required check
	readVars := make(map[string]struct{})

	for i := range c.vars {
		v := &c.vars[i]
		envVal := c.getenv(envName(v.name))
		if envVal == "" {
			continue
		}
		if err := writeVar(envVal, v.value, v.preHook); err != nil {
			return fmt.Errorf("read environment variable %s: %w", envName(v.name), err)
		}
		readVars[v.name] = struct{}{}
	}

	alreadyRead := make(map[string]struct{})
	c.args = nil

	var varInProgress *variable
	for _, arg := range args {
		if varInProgress != nil {
			if err := writeVar(arg, varInProgress.value, varInProgress.preHook); err != nil {
				return fmt.Errorf("read \"%s\" flag: %w", varInProgress.cliFlagName, err)
			}
			varInProgress = nil
			continue
		}

		if !strings.HasPrefix(arg, "-") {
			c.args = append(c.args, arg)
			continue
		}

		normalizedArg := normalizeFlag(arg)
		switch normalizedArg {
		case "-version":
			return errVersion
		case "-help", "-h":
			return errHelp
		}

		if _, exist := alreadyRead[normalizedArg]; exist {
			return fmt.Errorf("flag \"%s\" occurs twice", normalizedArg)
		}

		found := false
		for i := range c.vars {
			v := &c.vars[i]
			if v.cliFlagName != normalizedArg {
				continue
			}

			if b, ok := v.value.(*bool); ok {
				*b = true
			} else {
				varInProgress = v
			}

			alreadyRead[normalizedArg] = struct{}{}
			readVars[v.name] = struct{}{}
			found = true
			break
		}

		if !found {
			return fmt.Errorf("unknown flag \"%s\"", arg)
		}
	}

	if varInProgress != nil {
		return fmt.Errorf("no value for \"%s\" flag", varInProgress.cliFlagName)
	}

	for _, v := range c.vars {
		if !v.required {
			continue
		}
		if _, ok := readVars[v.name]; !ok {
			return fmt.Errorf("\"%s\" flag is missing", v.cliFlagName)
		}
	}

	return nil
}

// Parse parses os.Args and exits on -help, -version or any error.
func (c *CLI) Parse() {
	err := c.ParseArgs(os.Args[1:])
	switch {
	case err == nil:
		return
	case errors.Is(err, errVersion):
		fmt.Fprintln(c.out, c.version)
		os.Exit(0)
	case errors.Is(err, errHelp):
		c.printHelp()
		os.Exit(0)
	default:
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		os.Exit(1)
	}
}
