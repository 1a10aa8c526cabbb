package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// DeviceConfig is what a buyer or seller client needs to run a call session.
// It is loaded the same way as the API config: env only.
type DeviceConfig struct {
	Env string

	APIBaseURL   string
	SignalingURL string
	AccessToken  string

	UserID   string
	Role     string
	ShopID   string
	ShopName string

	RingTimeout    time.Duration
	SignalingGrace time.Duration
	HTTPTimeout    time.Duration
}

func LoadDevice() (DeviceConfig, error) { return LoadDeviceFrom(os.LookupEnv) }

func LoadDeviceFrom(lookup func(string) (string, bool)) (DeviceConfig, error) {
	e := &env{lookup: lookup}
	c := DeviceConfig{
		Env:          e.str("APP_ENV"),
		APIBaseURL:   strings.TrimRight(e.str("API_BASE_URL"), "/"),
		SignalingURL: e.str("SIGNALING_URL"),
		AccessToken:  e.str("ACCESS_TOKEN"),
		UserID:       e.str("DEVICE_USER_ID"),
		Role:         e.str("DEVICE_ROLE"),
		ShopID:       e.str("DEVICE_SHOP_ID"),
		ShopName:     e.str("DEVICE_SHOP_NAME"),

		RingTimeout:    e.duration("CALL_RING_TIMEOUT"),
		SignalingGrace: e.duration("SIGNALING_GRACE"),
		HTTPTimeout:    e.duration("API_HTTP_TIMEOUT"),
	}
	if err := errors.Join(e.errs...); err != nil {
		return DeviceConfig{}, err
	}
	if err := c.Validate(); err != nil {
		return DeviceConfig{}, err
	}
	return c, nil
}

func (c *DeviceConfig) Validate() error {
	var errs []error

	if c.Env == "" {
		c.Env = "local"
	} else if !isValidEnv(c.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.Env))
	}
	if err := validURL("API_BASE_URL", c.APIBaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if err := validURL("SIGNALING_URL", c.SignalingURL, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if c.AccessToken == "" {
		errs = append(errs, errors.New("ACCESS_TOKEN is required"))
	}
	if c.UserID == "" {
		errs = append(errs, errors.New("DEVICE_USER_ID is required"))
	}
	switch c.Role {
	case "buyer":
	case "seller":
		if c.ShopID == "" {
			errs = append(errs, errors.New("DEVICE_SHOP_ID is required for sellers"))
		}
	default:
		errs = append(errs, fmt.Errorf("DEVICE_ROLE must be buyer or seller, got %q", c.Role))
	}

	if c.RingTimeout <= 0 {
		c.RingTimeout = 30 * time.Second
	}
	if c.SignalingGrace <= 0 {
		c.SignalingGrace = 15 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}

	return errors.Join(errs...)
}

func validURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url, got %q", key, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %s, got %q", key, strings.Join(schemes, ", "), u.Scheme)
}
