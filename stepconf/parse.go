// Package stepconf parses step inputs from environment variables into a struct.
//
// Fields are bound with the `env` tag: `env:"key"` or `env:"key,constraint"`, where constraint is one of
// required, file, dir or opt[a,b,'c,d'].
package stepconf

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/bitrise-io/go-utils/colorstring"
)

// ErrNotStructPtr indicates a type is not a pointer to a struct.
var ErrNotStructPtr = errors.New("must be a pointer to a struct")

// EnvGetter ...
type EnvGetter interface {
	Get(key string) string
}

type osEnvGetter struct{}

func (osEnvGetter) Get(key string) string {
	return os.Getenv(key)
}

// Secret is a string that is printed masked.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// Parse fills conf, a pointer to a struct, from the process environment.
func Parse(conf interface{}) error {
	return parse(conf, osEnvGetter{})
}

// InputParser fills a config struct from step inputs.
type InputParser interface {
	Parse(input interface{}) error
}

type envInputParser struct {
	envGetter EnvGetter
}

// NewInputParser reads inputs through envGetter, usually an env.Repository.
func NewInputParser(envGetter EnvGetter) InputParser {
	return envInputParser{envGetter: envGetter}
}

func (p envInputParser) Parse(input interface{}) error {
	return parse(input, p.envGetter)
}

func parse(conf interface{}, envGetter EnvGetter) error {
	c := reflect.ValueOf(conf)
	if c.Kind() != reflect.Ptr {
		return ErrNotStructPtr
	}
	c = c.Elem()
	if c.Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	t := c.Type()

	var errs []string
	for i := 0; i < c.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)
		value := envGetter.Get(key)

		if err := validateConstraint(value, constraint); err != nil {
			errs = append(errs, fmt.Sprintf("- %s: %s", key, err))
			continue
		}
		if err := setField(c.Field(i), value); err != nil {
			errs = append(errs, fmt.Sprintf("- %s: %s", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to parse config:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func parseTag(tag string) (string, string) {
	key, constraint, _ := strings.Cut(tag, ",")
	return strings.TrimSpace(key), strings.TrimSpace(constraint)
}

func setField(field reflect.Value, value string) error {
	if value == "" {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("can't convert to int: %s", value)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("can't convert to uint: %s", value)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("can't convert to float: %s", value)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		items := strings.Split(value, "|")
		field.Set(reflect.ValueOf(items).Convert(field.Type()))
	case reflect.Ptr:
		ptr := reflect.New(field.Type().Elem())
		if err := setField(ptr.Elem(), value); err != nil {
			return err
		}
		field.Set(ptr)
	default:
		return fmt.Errorf("unsupported type: %s", field.Type())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y", "true":
		return true, nil
	case "no", "n", "false":
		return false, nil
	}
	return false, fmt.Errorf("can't convert to bool: %s", value)
}

func validateConstraint(value, constraint string) error {
	switch {
	case constraint == "":
	case constraint == "required":
		if value == "" {
			return errors.New("required variable is not present")
		}
	case constraint == "file" || constraint == "dir":
		return checkPath(value, constraint == "dir")
	case strings.HasPrefix(constraint, "opt[") && strings.HasSuffix(constraint, "]"):
		options := splitOptions(strings.TrimSuffix(strings.TrimPrefix(constraint, "opt["), "]"))
		for _, option := range options {
			if option == value {
				return nil
			}
		}
		return fmt.Errorf("value is not in value options (%s)", strings.Join(options, ", "))
	default:
		return fmt.Errorf("invalid constraint (%s)", constraint)
	}
	return nil
}

// splitOptions splits on commas outside of single quotes.
func splitOptions(list string) []string {
	var options []string
	var current strings.Builder
	quoted := false
	for _, r := range list {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ',' && !quoted:
			options = append(options, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(options, strings.TrimSpace(current.String()))
}

func checkPath(path string, dir bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.New("check path: " + err.Error())
	}
	if dir && !info.IsDir() {
		return errors.New("not a directory")
	}
	if !dir && info.IsDir() {
		return errors.New("not a file")
	}
	return nil
}

// Print writes the fields of config to stdout, secrets masked and empty values marked as unset.
func Print(config interface{}) {
	fmt.Print(toString(config))
}

func toString(config interface{}) string {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()

	str := colorstring.Bluef("%s:\n", upperFirst(t.Name()))
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		key, _ := parseTag(field.Tag.Get("env"))
		if key == "" {
			key = field.Name
		}

		value := "<unset>"
		if !v.Field(i).IsZero() {
			value = valueString(v.Field(i))
		}
		str += fmt.Sprintf("- %s: %s\n", key, value)
	}
	return str
}

func valueString(v reflect.Value) string {
	if v.Kind() != reflect.Ptr {
		return fmt.Sprintf("%v", v.Interface())
	}
	if v.IsNil() {
		return ""
	}
	return fmt.Sprintf("%v", v.Elem().Interface())
}

func upperFirst(s string) string {
	for i, r := range s {
		return string(unicode.ToUpper(r)) + s[i+len(string(r)):]
	}
	return s
}
