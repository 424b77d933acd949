package conf

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

var config *Market

// Market is the market node config
type Market struct {
	API    API
	LOG    LOG
	DB     DB
	Redis  Redis
	Rental Rental
}

type API struct {
	Port int
	// Authority is the address allowed to judge jobs and settle job escrows.
	Authority string
	// VerifySignature requires every mutating request to be signed by its caller.
	VerifySignature bool
	// SignatureTTL bounds the age of a signed request, in seconds.
	SignatureTTL int64
	Pprof        bool
}

type LOG struct {
	CrtFile string
	KeyFile string
}

type DB struct {
	Path string
}

type Redis struct {
	// Url of the broker shared with the provisioning daemon; empty disables notifications.
	Url      string
	Password string
	Workers  int
}

type Rental struct {
	SweepInterval Duration
}

// Duration reads toml strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func InitConfig(repoPath string) error {
	c, err := LoadConfig(repoPath)
	if err != nil {
		return err
	}
	config = c
	return nil
}

// LoadConfig reads config.toml under repoPath and fills defaults.
func LoadConfig(repoPath string) (*Market, error) {
	configFile := filepath.Join(repoPath, "config.toml")

	c := new(Market)
	metaData, err := toml.DecodeFile(configFile, c)
	if err != nil {
		return nil, fmt.Errorf("failed load config file, path: %s, error: %w", configFile, err)
	}
	if err := requiredFieldsAreGiven(metaData); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(c.API.Authority) {
		return nil, fmt.Errorf("API.Authority %q is not an address", c.API.Authority)
	}

	if c.DB.Path == "" {
		c.DB.Path = filepath.Join(repoPath, "db")
	} else if !filepath.IsAbs(c.DB.Path) {
		c.DB.Path = filepath.Join(repoPath, c.DB.Path)
	}
	if c.API.SignatureTTL <= 0 {
		c.API.SignatureTTL = 300
	}
	if c.Redis.Workers <= 0 {
		c.Redis.Workers = 2
	}
	if c.Rental.SweepInterval.Duration <= 0 {
		c.Rental.SweepInterval.Duration = 30 * time.Second
	}
	return c, nil
}

func GetConfig() *Market {
	return config
}

func (c *Market) AuthorityAddress() common.Address {
	return common.HexToAddress(c.API.Authority)
}

// TLS reports whether both certificate files are configured.
func (c *Market) TLS() bool {
	return c.LOG.CrtFile != "" && c.LOG.KeyFile != ""
}

func requiredFieldsAreGiven(metaData toml.MetaData) error {
	requiredFields := [][]string{
		{"API"},
		{"DB"},

		{"API", "Port"},
		{"API", "Authority"},
	}

	for _, v := range requiredFields {
		if !metaData.IsDefined(v...) {
			return fmt.Errorf("required field %s not given", strings.Join(v, "."))
		}
	}
	return nil
}
