package catalog

import (
	"embed"
	"html/template"
	"strconv"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("").Funcs(template.FuncMap{
	"price":    formatPrice,
	"imageURL": func(name string) string { return ImagesPrefix + name },
}).ParseFS(templateFS, "templates/*.html"))

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
