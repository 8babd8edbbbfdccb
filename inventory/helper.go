package inventory

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"ec2inventory/awsd/models"
	"ec2inventory/errors"
)

var (
	unsafeChars         = regexp.MustCompile(`[^A-Za-z0-9_]`)
	unsafeCharsKeepDash = regexp.MustCompile(`[^A-Za-z0-9_\-]`)
)

// ToSafe lower-cases a word and replaces every character outside the
// ansible group-name alphabet with an underscore. Dashes survive when
// replaceDash is false. The transform is idempotent.
func ToSafe(word string, replaceDash bool) string {
	word = strings.ToLower(word)
	if replaceDash {
		return unsafeChars.ReplaceAllString(word, "_")
	}
	return unsafeCharsKeepDash.ReplaceAllString(word, "_")
}

// resolveDestination picks the connection address for an instance.
// A configured destination format wins; otherwise the VPC destination
// variable applies to subnet residents and the default destination
// variable to everything else, with a tag of the exact variable name
// overriding the attribute. Returns "" for unaddressable instances.
func (c *Classifier) resolveDestination(in *models.Instance) string {
	s := c.settings

	if s.DestinationFormat != "" && len(s.DestinationFormatTags) > 0 {
		values := make([]string, 0, len(s.DestinationFormatTags))
		for _, name := range s.DestinationFormatTags {
			if value, ok := in.Tag(name); ok {
				values = append(values, value)
			} else if value := in.Attr(name); value != "" {
				values = append(values, value)
			} else {
				values = append(values, "nil")
			}
		}
		return formatDestination(s.DestinationFormat, values)
	}

	variable := s.DestinationVariable
	if in.HasSubnet() {
		variable = s.VPCDestinationVariable
	}
	dest := in.Attr(variable)
	if value, ok := in.Tag(variable); ok {
		dest = value
	}
	return dest
}

// formatDestination substitutes positional {i} markers with values.
func formatDestination(format string, values []string) string {
	for i, value := range values {
		format = strings.ReplaceAll(format, "{"+strconv.Itoa(i)+"}", value)
	}
	return format
}

// resolveHostname picks the inventory name for an instance. Hostnames
// read from DNS-style attributes, or falling back to the destination
// address, keep their dots and are only lower-cased; everything else
// goes through the sanitizer.
func (c *Classifier) resolveHostname(in *models.Instance, dest string) string {
	variable := c.settings.HostnameVariable

	var hostname string
	dnsSource := false
	if variable != "" {
		if strings.HasPrefix(variable, "tag_") {
			hostname, _ = in.Tag(strings.TrimPrefix(variable, "tag_"))
		} else {
			hostname = in.Attr(variable)
			dnsSource = strings.HasSuffix(variable, "DnsName")
		}
	}

	if hostname == "" {
		return strings.ToLower(dest)
	}
	if dnsSource {
		return strings.ToLower(hostname)
	}
	return c.safe(hostname)
}

// FormatDocument serializes an inventory document for stdout: pretty
// JSON with sorted keys by default, YAML when asYAML is set.
func FormatDocument(doc interface{}, asYAML bool) (string, error) {
	if asYAML {
		data, err := yaml.Marshal(doc)
		if err != nil {
			return "", errors.New(errors.ErrInventory, "failed to serialize document as YAML", nil, err)
		}
		return string(data), nil
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.New(errors.ErrInventory, "failed to serialize document as JSON", nil, err)
	}
	return string(data), nil
}
