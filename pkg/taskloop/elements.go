package taskloop

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Inventory is the bounded interactive-element summary included in each
// state snapshot.
type Inventory struct {
	Buttons  []ButtonEntry  `json:"buttons"`
	Links    []LinkEntry    `json:"links"`
	Inputs   []InputEntry   `json:"inputs"`
	Selects  []SelectEntry  `json:"selects"`
	Headings []HeadingEntry `json:"headings"`
	Images   []ImageEntry   `json:"images"`
}

type ButtonEntry struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Selector string `json:"selector"`
}

type LinkEntry struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Href  string `json:"href"`
}

type InputEntry struct {
	Index       int    `json:"index"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Placeholder string `json:"placeholder"`
}

type SelectEntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

type HeadingEntry struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Text  string `json:"text"`
}

type ImageEntry struct {
	Index int    `json:"index"`
	Alt   string `json:"alt"`
	Src   string `json:"src"`
}

// ExtractInventory parses page markup into the element inventory. Text
// fields are truncated to keep snapshots bounded.
func ExtractInventory(html string) (Inventory, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Inventory{}, err
	}

	inv := Inventory{
		Buttons:  []ButtonEntry{},
		Links:    []LinkEntry{},
		Inputs:   []InputEntry{},
		Selects:  []SelectEntry{},
		Headings: []HeadingEntry{},
		Images:   []ImageEntry{},
	}

	doc.Find(`button, [role="button"], input[type="submit"]`).Each(func(i int, s *goquery.Selection) {
		inv.Buttons = append(inv.Buttons, ButtonEntry{
			Index:    i,
			Text:     clip(text(s), 50),
			Selector: nthOfType("button", i),
		})
	})

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		inv.Links = append(inv.Links, LinkEntry{
			Index: i,
			Text:  clip(text(s), 50),
			Href:  clip(href, 100),
		})
	})

	doc.Find(`input:not([type="hidden"]), textarea`).Each(func(i int, s *goquery.Selection) {
		inputType, _ := s.Attr("type")
		if inputType == "" {
			inputType = "text"
		}
		name, _ := s.Attr("name")
		placeholder, _ := s.Attr("placeholder")
		inv.Inputs = append(inv.Inputs, InputEntry{
			Index:       i,
			Type:        inputType,
			Name:        name,
			Placeholder: clip(placeholder, 50),
		})
	})

	doc.Find("select").Each(func(i int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		inv.Selects = append(inv.Selects, SelectEntry{Index: i, Name: name})
	})

	doc.Find("h1, h2, h3, h4").Each(func(i int, s *goquery.Selection) {
		inv.Headings = append(inv.Headings, HeadingEntry{
			Index: i,
			Tag:   goquery.NodeName(s),
			Text:  clip(text(s), 100),
		})
	})

	doc.Find("img[src]").Each(func(i int, s *goquery.Selection) {
		alt, _ := s.Attr("alt")
		src, _ := s.Attr("src")
		inv.Images = append(inv.Images, ImageEntry{
			Index: i,
			Alt:   clip(alt, 50),
			Src:   clip(src, 100),
		})
	})

	return inv, nil
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func nthOfType(tag string, index int) string {
	return fmt.Sprintf("%s:nth-of-type(%d)", tag, index+1)
}
