package juju

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrNoControllers indicates a controllers.yaml without any controller.
var ErrNoControllers = errors.New("no controllers defined")

// Account is one entry of accounts.yaml.
type Account struct {
	User            string `yaml:"user"                        mapstructure:"user"`
	Password        string `yaml:"password,omitempty"          mapstructure:"password"`
	LastKnownAccess string `yaml:"last-known-access,omitempty" mapstructure:"last-known-access"`
}

// AccountsFile is the layout of accounts.yaml.
type AccountsFile struct {
	Controllers map[string]Account `yaml:"controllers"`
}

// ControllerDetails keeps the fields of controllers.yaml this tool reads;
// everything else is passed through untouched.
type ControllerDetails struct {
	UUID         string   `yaml:"uuid"`
	APIEndpoints []string `yaml:"api-endpoints"`
	CACert       string   `yaml:"ca-cert"`
}

// ControllersFile is the layout of controllers.yaml.
type ControllersFile struct {
	Controllers       map[string]ControllerDetails `yaml:"controllers"`
	CurrentController string                       `yaml:"current-controller,omitempty"`
}

// ParseControllers decodes controllers.yaml content.
func ParseControllers(data string) (ControllersFile, error) {
	var f ControllersFile
	if err := yaml.Unmarshal([]byte(data), &f); err != nil {
		return f, fmt.Errorf("parse controllers: %w", err)
	}
	if len(f.Controllers) == 0 {
		return f, ErrNoControllers
	}
	for name, details := range f.Controllers {
		if len(details.APIEndpoints) == 0 {
			return f, fmt.Errorf("controller %q has no api-endpoints", name)
		}
	}
	return f, nil
}

// ParseAccounts decodes accounts.yaml content.
func ParseAccounts(data string) (AccountsFile, error) {
	var f AccountsFile
	if err := yaml.Unmarshal([]byte(data), &f); err != nil {
		return f, fmt.Errorf("parse accounts: %w", err)
	}
	return f, nil
}

// Marshal renders accounts.yaml content.
func (f AccountsFile) Marshal() (string, error) {
	out, err := yaml.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("render accounts: %w", err)
	}
	return string(out), nil
}

// Names returns the controller names, sorted.
func (f ControllersFile) Names() []string {
	names := make([]string, 0, len(f.Controllers))
	for name := range f.Controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every controller has an account with a user.
func (f AccountsFile) Validate(controllers ControllersFile) error {
	for _, name := range controllers.Names() {
		account, ok := f.Controllers[name]
		if !ok {
			return fmt.Errorf("no account for controller %q", name)
		}
		if account.User == "" {
			return fmt.Errorf("account for controller %q has no user", name)
		}
	}
	return nil
}
