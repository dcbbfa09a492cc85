package mongoutil

import (
	"net/url"
	"strconv"
	"strings"

	"PPFeed/tools/errs"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

// Config 会话/消息库连接配置；给了 uri 时忽略 address
type Config struct {
	Uri         string   `mapstructure:"uri"`
	Address     []string `mapstructure:"address"`
	Database    string   `mapstructure:"database"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	AuthSource  string   `mapstructure:"auth_source"`
	MaxPoolSize int      `mapstructure:"max_pool_size"`
	MaxRetry    int      `mapstructure:"max_retry"`
}

func (c *Config) ValidateAndSetDefaults() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errs.ErrInvalidArgument.WrapMsg("either mongo uri or address must be provided")
	}
	if c.Database == "" {
		return errs.ErrInvalidArgument.WrapMsg("mongo database is required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Uri == "" {
		c.Uri = c.buildURI()
	}
	return nil
}

// authSource 缺省为业务库本身
func (c *Config) buildURI() string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   strings.Join(c.Address, ","),
		Path:   "/" + c.Database,
	}
	if c.Username != "" && c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	src := c.AuthSource
	if src == "" {
		src = c.Database
	}
	u.RawQuery = "authSource=" + url.QueryEscape(src) + "&maxPoolSize=" + strconv.Itoa(c.MaxPoolSize)
	return u.String()
}
