package export

import (
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

type expenseYAML struct {
	ID        string `yaml:"id"`
	CreatedAt string `yaml:"created_at"`
	Name      string `yaml:"name"`
	Category  string `yaml:"category"`
	Amount    string `yaml:"amount"`
}

type documentYAML struct {
	Expenses []expenseYAML `yaml:"expenses"`
	Total    string        `yaml:"total"`
}

// YAMLEncoder writes a document with an expenses list and a total.
type YAMLEncoder struct{}

func (YAMLEncoder) Encode(w io.Writer, rows []Row, total string) error {
	doc := documentYAML{Expenses: make([]expenseYAML, 0, len(rows)), Total: total}
	for _, r := range rows {
		doc.Expenses = append(doc.Expenses, expenseYAML{
			ID:        r.ID,
			CreatedAt: r.CreatedAt.Format(time.RFC3339),
			Name:      r.Name,
			Category:  r.Category,
			Amount:    r.Amount,
		})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
