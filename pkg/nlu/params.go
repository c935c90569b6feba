package nlu

import (
	"regexp"
	"strings"
)

// Deterministic parameter extraction per intent family. This is a
// side-channel beside the entity extractor: intents pull out the handful of
// fields their handlers need.

var (
	emailParam    = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	phoneParam    = regexp.MustCompile(`(?:\+?\d{1,3}[\s.\-])?\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`)
	nameParam     = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`)
	quantityParam = regexp.MustCompile(`\b(\d+)\s*(?:units?|items?|pieces?|pcs|x)\b`)
	orderIDParam  = regexp.MustCompile(`\b(?:SO|ORD)-?\d{3,10}\b`)
	skuParam      = regexp.MustCompile(`\b(?:SKU|PRD)-?[A-Z0-9]{3,12}\b`)
	dateParam     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	timeParam     = regexp.MustCompile(`\b\d{1,2}:\d{2}\s?(?:[AaPp][Mm])?\b`)
)

// extractParameters pulls intent-family parameters out of the utterance.
func extractParameters(intentName, text string) map[string]string {
	params := make(map[string]string)
	set := func(key string, re *regexp.Regexp) {
		if m := re.FindString(text); m != "" {
			params[key] = strings.TrimSpace(m)
		}
	}

	switch {
	case strings.Contains(intentName, "contact"):
		set("name", nameParam)
		set("email", emailParam)
		set("phone", phoneParam)
	case strings.Contains(intentName, "order"):
		set("order_id", orderIDParam)
		set("quantity", quantityParam)
		set("product", skuParam)
	case strings.Contains(intentName, "inventory"):
		set("product", skuParam)
		set("quantity", quantityParam)
	case intentName == "schedule_meeting":
		set("date", dateParam)
		set("time", timeParam)
		set("with", nameParam)
	case intentName == "generate_report":
		set("date", dateParam)
	}

	if len(params) == 0 {
		return nil
	}
	return params
}
