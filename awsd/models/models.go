package models

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Instance represents one EC2 instance as returned by
// DescribeInstances. The full record is kept as an attribute map (the
// SDK struct round-tripped through JSON) so the emitted hostvars carry
// every provider field; typed accessors cover the handful of fields
// the classifier reads.
type Instance struct {
	Region string
	Attrs  map[string]interface{}

	tags map[string]string
}

// NewInstance converts an SDK instance record fetched from the given
// region into its attribute-map form.
func NewInstance(region string, raw types.Instance) (*Instance, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}

	tags := make(map[string]string)
	for _, tag := range raw.Tags {
		if tag.Key != nil && tag.Value != nil {
			tags[*tag.Key] = *tag.Value
		}
	}

	return &Instance{
		Region: region,
		Attrs:  attrs,
		tags:   tags,
	}, nil
}

// Attr returns the named top-level attribute as a string, or "" when
// the attribute is absent, null, or not a string.
func (i *Instance) Attr(name string) string {
	value, ok := i.Attrs[name]
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return s
}

// Tags returns the instance tags as a key/value map.
func (i *Instance) Tags() map[string]string {
	return i.tags
}

// Tag returns the named tag value and whether it exists.
func (i *Instance) Tag(key string) (string, bool) {
	value, ok := i.tags[key]
	return value, ok
}

// ID returns the instance id.
func (i *Instance) ID() string {
	return i.Attr("InstanceId")
}

// StateName returns the lifecycle state name (e.g. "running").
func (i *Instance) StateName() string {
	state, ok := i.Attrs["State"].(map[string]interface{})
	if !ok {
		return ""
	}
	name, _ := state["Name"].(string)
	return name
}

// AvailabilityZone returns the placement availability zone.
func (i *Instance) AvailabilityZone() string {
	placement, ok := i.Attrs["Placement"].(map[string]interface{})
	if !ok {
		return ""
	}
	az, _ := placement["AvailabilityZone"].(string)
	return az
}

// HasSubnet reports whether the instance resides in a VPC subnet.
func (i *Instance) HasSubnet() bool {
	return i.Attr("SubnetId") != ""
}

// SecurityGroupNames returns the names of the attached security
// groups. ok is false when the record carries no security-group list
// at all, which only very old API responses do.
func (i *Instance) SecurityGroupNames() (names []string, ok bool) {
	value, present := i.Attrs["SecurityGroups"]
	if !present || value == nil {
		return nil, false
	}
	groups, isList := value.([]interface{})
	if !isList {
		return nil, false
	}
	for _, group := range groups {
		entry, isMap := group.(map[string]interface{})
		if !isMap {
			continue
		}
		if name, _ := entry["GroupName"].(string); name != "" {
			names = append(names, name)
		}
	}
	return names, true
}
