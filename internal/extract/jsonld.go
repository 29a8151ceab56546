package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// structuredProduct is the subset of a schema.org Product we read.
type structuredProduct struct {
	Name         string
	SKU          string
	Description  string
	Brand        string
	Price        string
	Availability string
	Images       []string
}

// findStructuredProduct returns the first schema.org Product found in the
// page's JSON-LD scripts, searching arrays and @graph containers.
func findStructuredProduct(doc *goquery.Document) (*structuredProduct, bool) {
	var found *structuredProduct

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		if obj := findProductNode(data); obj != nil {
			found = toStructuredProduct(obj)
			return false
		}
		return true
	})

	return found, found != nil
}

func findProductNode(data any) map[string]any {
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if obj := findProductNode(item); obj != nil {
				return obj
			}
		}
	case map[string]any:
		if isType(v["@type"], "Product") {
			return v
		}
		if graph, ok := v["@graph"]; ok {
			return findProductNode(graph)
		}
	}
	return nil
}

func isType(t any, want string) bool {
	switch v := t.(type) {
	case string:
		return v == want
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func toStructuredProduct(obj map[string]any) *structuredProduct {
	p := &structuredProduct{
		Name:        stringField(obj["name"]),
		SKU:         stringField(obj["sku"]),
		Description: stringField(obj["description"]),
		Brand:       nameOf(obj["brand"]),
		Images:      imageList(obj["image"]),
	}

	offers := obj["offers"]
	if list, ok := offers.([]any); ok && len(list) > 0 {
		offers = list[0]
	}
	if offer, ok := offers.(map[string]any); ok {
		p.Price = stringField(offer["price"])
		if p.Price == "" {
			p.Price = stringField(offer["lowPrice"])
		}
		if p.Price == "" {
			if spec, ok := offer["priceSpecification"].(map[string]any); ok {
				p.Price = stringField(spec["price"])
			}
		}
		p.Availability = stringField(offer["availability"])
	}

	return p
}

func stringField(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	}
	return ""
}

func nameOf(v any) string {
	if obj, ok := v.(map[string]any); ok {
		return stringField(obj["name"])
	}
	return stringField(v)
}

func imageList(v any) []string {
	var out []string
	switch img := v.(type) {
	case string:
		out = append(out, img)
	case map[string]any:
		if u := stringField(img["url"]); u != "" {
			out = append(out, u)
		}
	case []any:
		for _, item := range img {
			out = append(out, imageList(item)...)
		}
	}
	return out
}
