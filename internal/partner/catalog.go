package partner

import (
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Product — продукт из каталога.
type Product struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Catalog — известные продукты реестра.
//
// Пример файла CDR_PARTNER_CATALOG_FILE:
//
//	products:
//	  - name: PDQ
//	    description: PDQ production data
//	  - name: TEST
//	    description: PDQ test data
//	production: PDQ
//	bogus_products: [CDR, LICENSEE]
//
// Незаданные ключи берутся из DefaultCatalog.
type Catalog struct {
	Products []Product `yaml:"products"`
	// Production — продукт, на который заменяются ошибочные значения
	Production string `yaml:"production"`
	// Bogus — исторически искажённые значения колонки продукта;
	// такие контакты помечаются как удалённые
	Bogus []string `yaml:"bogus_products"`
}

// DefaultCatalog возвращает встроенный каталог.
func DefaultCatalog() Catalog {
	return Catalog{
		Products: []Product{
			{Name: "PDQ", Description: "PDQ production data"},
			{Name: "TEST", Description: "PDQ test data"},
		},
		Production: "PDQ",
		Bogus:      []string{"CDR", "LICENSEE", "PDQ-XML"},
	}
}

// LoadCatalog читает YAML-каталог и дополняет его значениями по умолчанию.
// Пустой path — встроенный каталог.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("чтение каталога продуктов: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog разбирает YAML-каталог поверх встроенного.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("разбор каталога продуктов: %w", err)
	}
	if err := mergo.Merge(&c, DefaultCatalog()); err != nil {
		return Catalog{}, fmt.Errorf("объединение каталога продуктов: %w", err)
	}
	if err := c.validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

func (c Catalog) validate() error {
	seen := map[string]bool{}
	for _, p := range c.Products {
		key := strings.ToUpper(strings.TrimSpace(p.Name))
		if key == "" {
			return fmt.Errorf("каталог продуктов: пустое имя продукта")
		}
		if seen[key] {
			return fmt.Errorf("каталог продуктов: продукт %q указан дважды", p.Name)
		}
		seen[key] = true
	}
	if !seen[strings.ToUpper(c.Production)] {
		return fmt.Errorf("каталог продуктов: основной продукт %q отсутствует в списке", c.Production)
	}
	return nil
}

// Lookup возвращает продукт по имени (регистр не важен).
func (c Catalog) Lookup(name string) (Product, bool) {
	for _, p := range c.Products {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Product{}, false
}

// IsBogus проверяет, является ли значение искажённым продуктом.
func (c Catalog) IsBogus(name string) bool {
	for _, b := range c.Bogus {
		if strings.EqualFold(b, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// Restrict оставляет в каталоге только продукты allowed.
// Пустой allowed — каталог без изменений.
func (c Catalog) Restrict(allowed []string) (Catalog, error) {
	if len(allowed) == 0 {
		return c, nil
	}
	restricted := c
	restricted.Products = nil
	for _, name := range allowed {
		p, ok := c.Lookup(name)
		if !ok {
			return Catalog{}, fmt.Errorf("неизвестный продукт %q", name)
		}
		if _, dup := restricted.Lookup(p.Name); !dup {
			restricted.Products = append(restricted.Products, p)
		}
	}
	return restricted, nil
}
