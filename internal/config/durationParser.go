package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/haukened/vanish/internal/domain"
)

// StringToTTLOptions is a DecodeHookFunc that converts a string to domain.TTLOption
func StringToTTLOptions() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(domain.TTLOption{}) {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return nil, fmt.Errorf("empty TTL option string")
		}
		return domain.NewTTLOption(s)
	}
}

// StringToByteSize converts human sizes such as "128KiB" into ByteSize.
func StringToByteSize() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		n, err := ParseSize(data.(string))
		if err != nil {
			return nil, err
		}
		return ByteSize(n), nil
	}
}
