package anonymizer

import (
	"strconv"
	"strings"

	"github.com/bwNetFlow/flowanon/anonymizer/hashstore"
	"github.com/pkg/errors"
)

// Hierarchy selects how much of the real network structure survives.
type Hierarchy int

const (
	HierarchyNone   Hierarchy = iota // networks are ignored, hosts fill anonymized /24s in order
	HierarchySubnet                  // real /24s are carved from one legacy pool
	HierarchyClass                   // real /24s are carved from the pool of their address class
	HierarchyCIDR                    // real /8, /16 and /24 each map to a nested anonymized network
)

func (h Hierarchy) String() string {
	switch h {
	case HierarchyNone:
		return "no"
	case HierarchySubnet:
		return "subnet"
	case HierarchyClass:
		return "class"
	case HierarchyCIDR:
		return "cidr"
	}
	return "unknown"
}

// ParseHierarchy accepts no, subnet, class and cidr.
func ParseHierarchy(value string) (Hierarchy, error) {
	switch strings.ToLower(value) {
	case "no", "none":
		return HierarchyNone, nil
	case "subnet":
		return HierarchySubnet, nil
	case "class":
		return HierarchyClass, nil
	case "cidr":
		return HierarchyCIDR, nil
	}
	return HierarchyNone, syntaxError("preserve_net_address_hierarchy", value)
}

// OffsetSpec is an offset that is either drawn from the seeded generator or
// fixed. The zero value disables the offset.
type OffsetSpec struct {
	Random bool
	Value  uint32
}

// ParseOffset accepts "random", "fixed:<n>" and "no". Only the field after
// the last colon is read as the value, so "offset:fixed:<n>" works as well.
func ParseOffset(value string) (OffsetSpec, error) {
	switch {
	case value == "random" || value == "offset:random":
		return OffsetSpec{Random: true}, nil
	case value == "no":
		return OffsetSpec{}, nil
	case strings.HasPrefix(value, "fixed") || strings.HasPrefix(value, "offset:fixed"):
		i := strings.LastIndex(value, ":")
		if i < 0 {
			return OffsetSpec{}, errors.Wrapf(ErrSyntax, "offset %q is missing its value", value)
		}
		n, err := strconv.ParseUint(value[i+1:], 10, 32)
		if err != nil {
			return OffsetSpec{}, errors.Wrapf(ErrSyntax, "offset %q: %s", value, err)
		}
		return OffsetSpec{Value: uint32(n)}, nil
	}
	return OffsetSpec{}, errors.Wrapf(ErrSyntax, "offset %q", value)
}

func (o OffsetSpec) String() string {
	if o.Random {
		return "random"
	}
	if o.Value == 0 {
		return "no"
	}
	return "fixed:" + strconv.FormatUint(uint64(o.Value), 10)
}

// PortMethod is the construction mode of the port table.
type PortMethod struct {
	Random bool       // full random permutation of the mutable range
	Offset OffsetSpec // rotation of the mutable range, used when Random is unset
}

// ParsePortMethod accepts random, offset:random, offset:fixed:<n> and no.
func ParsePortMethod(value string) (PortMethod, error) {
	if value == "random" {
		return PortMethod{Random: true}, nil
	}
	if value != "no" && !strings.HasPrefix(value, "offset:") {
		return PortMethod{}, syntaxError("port_method", value)
	}
	offset, err := ParseOffset(value)
	if err != nil {
		return PortMethod{}, syntaxError("port_method", value)
	}
	return PortMethod{Offset: offset}, nil
}

// Translation is a static override, From is replaced by To.
type Translation struct {
	From string
	To   string
}

func parseTranslation(key string, value string) (Translation, error) {
	from, to, found := strings.Cut(value, "::")
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if !found || from == "" || to == "" {
		return Translation{}, errors.Wrapf(ErrSyntax, "%s needs 'orig::anon', got %q", key, value)
	}
	return Translation{From: from, To: to}, nil
}

// Options configures an Engine. Use DefaultOptions as a starting point, the
// zero value disables most preservation features.
type Options struct {
	Seed string // time, crypto or a decimal number

	TransRefOffset OffsetSpec
	SeqOffset      OffsetSpec
	TimeSecOffset  OffsetSpec
	TimeUsecOffset OffsetSpec
	AsnOffset      OffsetSpec

	Hierarchy         Hierarchy
	PreserveBroadcast bool // keep .0 and .255 host octets on the anonymized network boundary
	PreserveMulticast bool // pass IPv4 multicast addresses through unchanged
	PreserveVendor    bool // keep the OUI of MAC addresses
	PreserveIpId      bool

	PreserveWellKnownPorts  bool
	PreserveRegisteredPorts bool
	PreservePrivatePorts    bool
	PortMethod              PortMethod

	HostTranslations []Translation
	NetTranslations  []Translation
	AsnTranslations  []Translation

	HashSize int    // bucket count of the identifier tables
	IPv6Key  []byte // 32 byte CryptoPAn key, drawn from the seed if unset
	Verbose  bool   // log every allocation
}

// DefaultOptions returns the defaults of the ranonymize tool.
func DefaultOptions() Options {
	return Options{
		Seed:                   "time",
		TransRefOffset:         OffsetSpec{Random: true},
		SeqOffset:              OffsetSpec{Random: true},
		TimeSecOffset:          OffsetSpec{Random: true},
		TimeUsecOffset:         OffsetSpec{Random: true},
		AsnOffset:              OffsetSpec{Random: true},
		Hierarchy:              HierarchyClass,
		PreserveBroadcast:      true,
		PreserveWellKnownPorts: true,
		PortMethod:             PortMethod{Offset: OffsetSpec{Random: true}},
		HashSize:               hashstore.DefaultSize,
	}
}

// PortFloor returns the lowest port that is anonymized. Each preservation
// level only applies when the levels below it are enabled too.
func (o *Options) PortFloor() int {
	if !o.PreserveWellKnownPorts {
		return 1
	}
	if !o.PreserveRegisteredPorts {
		return 1024
	}
	if !o.PreservePrivatePorts {
		return 49152
	}
	return maxPort + 1
}

type setter func(o *Options, value string) error

func boolSetter(field func(o *Options) *bool) setter {
	return func(o *Options, value string) error {
		switch strings.ToLower(value) {
		case "yes", "true", "1":
			*field(o) = true
		case "no", "false", "0":
			*field(o) = false
		default:
			return ErrSyntax
		}
		return nil
	}
}

func offsetSetter(field func(o *Options) *OffsetSpec) setter {
	return func(o *Options, value string) error {
		offset, err := ParseOffset(value)
		if err != nil {
			return err
		}
		*field(o) = offset
		return nil
	}
}

func translationSetter(key string, field func(o *Options) *[]Translation) setter {
	return func(o *Options, value string) error {
		translation, err := parseTranslation(key, value)
		if err != nil {
			return err
		}
		*field(o) = append(*field(o), translation)
		return nil
	}
}

// accepted for compatibility with existing resource files, without effect
func ignored(o *Options, value string) error { return nil }

var setters = map[string]setter{
	"seed": func(o *Options, value string) error {
		if value != "time" && value != "crypto" {
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				return ErrSyntax
			}
		}
		o.Seed = value
		return nil
	},
	"transrefnum_offset": offsetSetter(func(o *Options) *OffsetSpec { return &o.TransRefOffset }),
	"seqnum_offset":      offsetSetter(func(o *Options) *OffsetSpec { return &o.SeqOffset }),
	"time_sec_offset":    offsetSetter(func(o *Options) *OffsetSpec { return &o.TimeSecOffset }),
	"time_usec_offset":   offsetSetter(func(o *Options) *OffsetSpec { return &o.TimeUsecOffset }),
	"as_offset":          offsetSetter(func(o *Options) *OffsetSpec { return &o.AsnOffset }),
	"preserve_net_address_hierarchy": func(o *Options, value string) error {
		h, err := ParseHierarchy(value)
		if err != nil {
			return err
		}
		o.Hierarchy = h
		return nil
	},
	"preserve_broadcast_address":    boolSetter(func(o *Options) *bool { return &o.PreserveBroadcast }),
	"preserve_multicast_address":    boolSetter(func(o *Options) *bool { return &o.PreserveMulticast }),
	"preserve_ethernet_vendor":      boolSetter(func(o *Options) *bool { return &o.PreserveVendor }),
	"preserve_ip_id":                boolSetter(func(o *Options) *bool { return &o.PreserveIpId }),
	"preserve_wellknown_port_nums":  boolSetter(func(o *Options) *bool { return &o.PreserveWellKnownPorts }),
	"preserve_registered_port_nums": boolSetter(func(o *Options) *bool { return &o.PreserveRegisteredPorts }),
	"preserve_private_port_nums":    boolSetter(func(o *Options) *bool { return &o.PreservePrivatePorts }),
	"port_method": func(o *Options, value string) error {
		method, err := ParsePortMethod(value)
		if err != nil {
			return err
		}
		o.PortMethod = method
		return nil
	},
	"specify_host_translation": translationSetter("specify_host_translation", func(o *Options) *[]Translation { return &o.HostTranslations }),
	"specify_net_translation":  translationSetter("specify_net_translation", func(o *Options) *[]Translation { return &o.NetTranslations }),
	"specify_asn_translation":  translationSetter("specify_asn_translation", func(o *Options) *[]Translation { return &o.AsnTranslations }),
	"hash_table_size": func(o *Options, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return ErrSyntax
		}
		o.HashSize = n
		return nil
	},
	"ipv6_key": func(o *Options, value string) error {
		if len(value) != 32 {
			return errors.Wrapf(ErrSyntax, "ipv6_key needs 32 characters, got %d", len(value))
		}
		o.IPv6Key = []byte(value)
		return nil
	},
	"verbose": boolSetter(func(o *Options) *bool { return &o.Verbose }),

	"ethernet_anonymization":      ignored,
	"preserve_ethernet_broadcast": ignored,
	"preserve_ethernet_multicast": ignored,
	"net_anonymization":           ignored,
	"host_anonymization":          ignored,
	"network_address_length":      ignored,
	"preserve_port_nums":          ignored,
	"preserve_port_num":           ignored,
	"classa_net_address_list":     ignored,
	"classb_net_address_list":     ignored,
	"classc_net_address_list":     ignored,
	"classm_net_address_list":     ignored,
	"map_dumpfile":                ignored,
	"preserve_icmpmapped_ttl":     ignored,
	"preserve_ip_ttl":             ignored,
	"preserve_ip_tos":             ignored,
	"preserve_ip_options":         ignored,
	"as_anonymization":            ignored,
}

// IsOption reports whether key names an option, in either the resource
// file spelling (RANON_SEQNUM_OFFSET) or the lower case one (seqnum_offset).
func IsOption(key string) bool {
	_, ok := setters[normalizeKey(key)]
	return ok
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(key), "RANON_"))
}

// Set applies a single option. Translation options append, all others
// replace the previous value.
func (o *Options) Set(key string, value string) error {
	name := normalizeKey(key)
	set, ok := setters[name]
	if !ok {
		return errors.Wrapf(ErrSyntax, "unknown option %q", key)
	}
	if err := set(o, value); err != nil {
		if errors.Is(err, ErrSyntax) && err != ErrSyntax {
			return err
		}
		return syntaxError(name, value)
	}
	return nil
}
