package inventory

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"ec2inventory/awsd/models"
	"ec2inventory/configuration"
	"ec2inventory/errors"
)

const (
	packageName = "inventory"

	// MetaKey is the reserved top-level key carrying hostvars.
	MetaKey = "_meta"

	// CatchAllGroup is the group every retained instance joins.
	CatchAllGroup = "ec2"
)

// Group is one named inventory bucket: its member hostnames, reserved
// group variables, and child group names.
type Group struct {
	Hosts    []string               `json:"hosts" yaml:"hosts"`
	Vars     map[string]interface{} `json:"vars" yaml:"vars"`
	Children []string               `json:"children" yaml:"children"`
}

func newGroup() *Group {
	return &Group{
		Hosts:    []string{},
		Vars:     map[string]interface{}{},
		Children: []string{},
	}
}

// Location ties a hostname to the region and instance id it was
// discovered as. Serialized as the two-element [region, instanceID]
// pair the index file format uses.
type Location struct {
	Region     string
	InstanceID string
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{l.Region, l.InstanceID})
}

func (l *Location) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("expected [region, instanceID] pair, got %d elements", len(pair))
	}
	l.Region = pair[0]
	l.InstanceID = pair[1]
	return nil
}

// Index maps each inventoried hostname to where its instance lives,
// so single-host queries skip the full regional scan.
type Index map[string]Location

// Inventory is the root result of one run: every group plus the
// per-host attribute bags under _meta.hostvars.
type Inventory struct {
	Groups   map[string]*Group
	Hostvars map[string]map[string]interface{}
}

// NewInventory returns an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{
		Groups:   make(map[string]*Group),
		Hostvars: make(map[string]map[string]interface{}),
	}
}

// Document flattens the inventory into the shape ansible consumes:
// one key per group plus the reserved _meta.hostvars mapping.
func (inv *Inventory) Document() map[string]interface{} {
	doc := make(map[string]interface{}, len(inv.Groups)+1)
	for name, group := range inv.Groups {
		doc[name] = group
	}
	doc[MetaKey] = map[string]interface{}{
		"hostvars": inv.Hostvars,
	}
	return doc
}

// MarshalJSON emits the flattened document shape.
func (inv *Inventory) MarshalJSON() ([]byte, error) {
	return json.Marshal(inv.Document())
}

// group returns the named group, creating it lazily on first
// reference.
func (inv *Inventory) group(name string) *Group {
	g, ok := inv.Groups[name]
	if !ok {
		g = newGroup()
		inv.Groups[name] = g
	}
	return g
}

// push appends a host to a group's host list.
func (inv *Inventory) push(name, hostname string) {
	g := inv.group(name)
	g.Hosts = append(g.Hosts, hostname)
}

// pushChild registers child under parent. Re-adding an existing child
// is a no-op.
func (inv *Inventory) pushChild(parent, child string) {
	g := inv.group(parent)
	for _, existing := range g.Children {
		if existing == child {
			return
		}
	}
	g.Children = append(g.Children, child)
}

// groupRule is one grouping predicate: whether it is enabled, the
// group keys it produces for an instance, and the category group the
// keys nest under.
type groupRule struct {
	name    string
	enabled func(s *configuration.Settings) bool
	keys    func(c *Classifier, in *models.Instance, accountID string) ([]string, error)
	parent  string

	// singleton groups carry exactly one host (the instance-id group).
	singleton bool

	// nestUnderRegion additionally parents the key under the
	// instance's region group (availability zones).
	nestUnderRegion bool
}

// Classifier turns a flat instance list into the grouped inventory
// and the hostname index.
type Classifier struct {
	settings *configuration.Settings
	rules    []groupRule
}

// NewClassifier builds a classifier for the given settings.
func NewClassifier(settings *configuration.Settings) *Classifier {
	return &Classifier{
		settings: settings,
		rules:    buildRules(),
	}
}

// buildRules returns the ordered grouping rule table. Order matches
// the documented per-instance processing order.
func buildRules() []groupRule {
	return []groupRule{
		{
			name:      "instance_id",
			enabled:   func(s *configuration.Settings) bool { return s.GroupByInstanceID },
			parent:    "instances",
			singleton: true,
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				// Raw instance id, never sanitized.
				return []string{in.ID()}, nil
			},
		},
		{
			name:    "region",
			enabled: func(s *configuration.Settings) bool { return s.GroupByRegion },
			parent:  "regions",
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				return []string{c.safe(in.Region)}, nil
			},
		},
		{
			name:            "availability_zone",
			enabled:         func(s *configuration.Settings) bool { return s.GroupByAvailabilityZone },
			parent:          "zones",
			nestUnderRegion: true,
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				return []string{c.safe(in.AvailabilityZone())}, nil
			},
		},
		{
			name:    "ami_id",
			enabled: func(s *configuration.Settings) bool { return s.GroupByAMIID },
			parent:  "images",
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				return []string{c.safe(in.Attr("ImageId"))}, nil
			},
		},
		{
			name:    "instance_type",
			enabled: func(s *configuration.Settings) bool { return s.GroupByInstanceType },
			parent:  "types",
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				return []string{c.safe("type_" + in.Attr("InstanceType"))}, nil
			},
		},
		{
			name:    "instance_state",
			enabled: func(s *configuration.Settings) bool { return s.GroupByInstanceState },
			parent:  "instance_states",
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				return []string{c.safe("instance_state_" + in.StateName())}, nil
			},
		},
		{
			name:    "platform",
			enabled: func(s *configuration.Settings) bool { return s.GroupByPlatform },
			parent:  "platforms",
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				platform := in.Attr("Platform")
				if platform == "" {
					return []string{"platform_undefined"}, nil
				}
				return []string{c.safe("platform_" + platform)}, nil
			},
		},
		{
			name:    "key_pair",
			enabled: func(s *configuration.Settings) bool { return s.GroupByKeyPair },
			parent:  "keys",
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				keyName := in.Attr("KeyName")
				if keyName == "" {
					return nil, nil
				}
				return []string{c.safe("key_" + keyName)}, nil
			},
		},
		{
			name:    "vpc_id",
			enabled: func(s *configuration.Settings) bool { return s.GroupByVPCID },
			parent:  "vpcs",
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				vpcID := in.Attr("VpcId")
				if vpcID == "" {
					return nil, nil
				}
				return []string{c.safe("vpc_id_" + vpcID)}, nil
			},
		},
		{
			name:    "security_group",
			enabled: func(s *configuration.Settings) bool { return s.GroupBySecurityGroup },
			parent:  "security_groups",
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				names, ok := in.SecurityGroupNames()
				if !ok {
					return nil, errors.New(errors.ErrInventory,
						"instance record carries no security group list; the EC2 API response is too old",
						map[string]interface{}{
							"instance_id": in.ID(),
							"region":      in.Region,
						}, nil)
				}
				keys := make([]string, 0, len(names))
				for _, name := range names {
					keys = append(keys, c.safe("security_group_"+name))
				}
				return keys, nil
			},
		},
		{
			name:    "aws_account",
			enabled: func(s *configuration.Settings) bool { return s.GroupByAWSAccount },
			parent:  "accounts",
			keys: func(c *Classifier, in *models.Instance, accountID string) ([]string, error) {
				if accountID == "" {
					return nil, nil
				}
				return []string{accountID}, nil
			},
		},
		{
			name:    "tag_keys",
			enabled: func(s *configuration.Settings) bool { return s.GroupByTagKeys },
			parent:  "tags",
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				tags := in.Tags()
				keys := make([]string, 0, len(tags))
				for key, value := range tags {
					keys = append(keys, c.safe("tag_"+key+"="+value))
				}
				return keys, nil
			},
		},
		{
			name:    "tag_none",
			enabled: func(s *configuration.Settings) bool { return s.GroupByTagNone },
			parent:  "tags",
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				if len(in.Tags()) > 0 {
					return nil, nil
				}
				return []string{"tag_none"}, nil
			},
		},
		{
			name:    "catch_all",
			enabled: func(s *configuration.Settings) bool { return true },
			keys: func(c *Classifier, in *models.Instance, _ string) ([]string, error) {
				return []string{CatchAllGroup}, nil
			},
		},
	}
}

// Build classifies every instance and returns a freshly constructed
// inventory and index pair.
func (c *Classifier) Build(instances []*models.Instance, accountID string) (*Inventory, Index, error) {
	inv := NewInventory()
	index := make(Index)

	for _, in := range instances {
		if err := c.addInstance(inv, index, in, accountID); err != nil {
			return nil, nil, err
		}
	}
	return inv, index, nil
}

// addInstance runs the per-instance pipeline: state filter,
// destination resolution, hostname resolution, include/exclude
// patterns, index update, group rules, hostvars.
func (c *Classifier) addInstance(inv *Inventory, index Index, in *models.Instance, accountID string) error {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "addInstance"),
	)

	if !c.stateAllowed(in.StateName()) {
		return nil
	}

	dest := c.resolveDestination(in)
	if dest == "" {
		// Unaddressable, e.g. isolated in a private subnet.
		logger.Debug("Skipping unaddressable instance",
			zap.String("operation", "destination_resolution"),
			zap.String("instance_id", in.ID()),
			zap.String("region", in.Region),
		)
		return nil
	}

	hostname := c.resolveHostname(in, dest)

	if c.settings.PatternInclude != nil && !c.settings.PatternInclude.MatchString(hostname) {
		return nil
	}
	if c.settings.PatternExclude != nil && c.settings.PatternExclude.MatchString(hostname) {
		return nil
	}

	// Last write wins on hostname collisions; the calling environment
	// is expected to keep hostnames unique.
	if _, exists := index[hostname]; exists {
		logger.Debug("Duplicate hostname, overwriting earlier instance",
			zap.String("operation", "index_update"),
			zap.String("hostname", hostname),
			zap.String("instance_id", in.ID()),
		)
	}
	index[hostname] = Location{Region: in.Region, InstanceID: in.ID()}

	for _, rule := range c.rules {
		if !rule.enabled(c.settings) {
			continue
		}
		keys, err := rule.keys(c, in, accountID)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if key == "" {
				continue
			}
			if rule.singleton {
				inv.group(key).Hosts = []string{hostname}
			} else {
				inv.push(key, hostname)
			}
			if c.settings.NestedGroups && rule.parent != "" {
				if rule.nestUnderRegion && c.settings.GroupByRegion {
					inv.pushChild(c.safe(in.Region), key)
				}
				inv.pushChild(rule.parent, key)
			}
		}
	}

	in.Attrs["ansible_host"] = dest
	inv.Hostvars[hostname] = in.Attrs
	return nil
}

func (c *Classifier) stateAllowed(state string) bool {
	for _, allowed := range c.settings.InstanceStates {
		if state == allowed {
			return true
		}
	}
	return false
}

func (c *Classifier) safe(word string) string {
	return ToSafe(word, c.settings.ReplaceDashInGroups)
}
