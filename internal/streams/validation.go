package streams

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the configuration. Errors wrap ErrInvalidConfig.
func (c *RunConfig) Validate() error {
	if c.MediaKey != "" && len(c.Playlist) > 0 {
		return fmt.Errorf("%w: media_key and playlist are mutually exclusive", ErrInvalidConfig)
	}

	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// ParseMediaArg turns the worker's --media value into an item list.
// A value starting with '[' is a JSON array of keys; anything else is a single key.
func ParseMediaArg(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoMedia
	}
	if !strings.HasPrefix(raw, "[") {
		return []string{raw}, nil
	}

	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: playlist is not a JSON array of strings: %v", ErrInvalidConfig, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: playlist must not be empty", ErrInvalidConfig)
	}
	for i, item := range items {
		if strings.TrimSpace(item) == "" {
			return nil, fmt.Errorf("%w: playlist item %d is empty", ErrInvalidConfig, i)
		}
	}
	return items, nil
}

// MediaArg formats the configured media as the worker's --media value.
// A playlist is always a JSON array, even with one item, so the worker
// reports playlist progress for it.
func (c *RunConfig) MediaArg() (string, error) {
	if c.IsPlaylist() {
		data, err := json.Marshal(c.Playlist)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if c.MediaKey == "" {
		return "", ErrNoMedia
	}
	if strings.HasPrefix(c.MediaKey, "[") {
		data, err := json.Marshal([]string{c.MediaKey})
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return c.MediaKey, nil
}
