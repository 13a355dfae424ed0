package store

import (
	_ "embed"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog is the static content the stores are seeded with, plus the
// id -> narrative table used when merging a TestCaseDetail.
type Catalog struct {
	Transactions []TransactionRecord `yaml:"transactions"`
	Cards        []Card              `yaml:"cards"`
	Narratives   map[int]Narrative   `yaml:"narratives"`
	Default      Narrative           `yaml:"default"`
}

// DefaultCatalog parses the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, errors.Wrap(err, "failed to parse catalog")
	}
	return &cat, nil
}

// Lookup returns the narrative for rec. Records without a table entry get
// the default template with {id} and {value} filled in. The returned logs
// never alias the catalog.
func (c *Catalog) Lookup(rec TransactionRecord) Narrative {
	if n, ok := c.Narratives[rec.ID]; ok {
		n.Logs = append([]string(nil), n.Logs...)
		return n
	}

	r := strings.NewReplacer("{id}", strconv.Itoa(rec.ID), "{value}", rec.TransactionValue)
	n := c.Default
	n.Name = r.Replace(n.Name)
	n.Description = r.Replace(n.Description)
	n.Logs = make([]string, len(c.Default.Logs))
	for i, line := range c.Default.Logs {
		n.Logs[i] = r.Replace(line)
	}
	return n
}

func (c *Catalog) detail(rec TransactionRecord) *TestCaseDetail {
	return &TestCaseDetail{
		TransactionRecord: rec,
		Narrative:         c.Lookup(rec),
	}
}
