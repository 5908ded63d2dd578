package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var sidPattern = regexp.MustCompile(`^[0-9][0-9A-Z]{2}$`)

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their yaml names, which is what operators write.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// A server id is a digit followed by two digits or upper-case letters.
	_ = v.RegisterValidation("sid", func(fl validator.FieldLevel) bool {
		return sidPattern.MatchString(fl.Field().String())
	})

	return v
}

// Validate checks field constraints and the relations between sections.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := map[string]string{c.Server.SID: c.Server.Name}
	for _, p := range c.Links.Peers {
		if owner, ok := seen[p.SID]; ok {
			return fmt.Errorf("invalid config: sid %s used by both %s and %s", p.SID, owner, p.Name)
		}
		seen[p.SID] = p.Name
	}

	for _, name := range c.Links.Connect {
		p, ok := c.Peer(name)
		if !ok {
			return fmt.Errorf("invalid config: links.connect names unknown peer %q", name)
		}
		if p.Address == "" {
			return fmt.Errorf("invalid config: peer %q has no address to connect to", name)
		}
	}

	return nil
}
