package indexer

import "fmt"

// validatedNote is a Note whose data has passed §4.3's per-label validation
// rules, along with the mutation it applies to an HnsUpdate.
type validatedNote struct {
	note Note
	kind string

	netKey  []byte
	ip      []byte
	port    uint16
	routers []Namehash
}

// ValidateNote checks a raw Note against §4.3's per-label rules and
// returns the mutation to apply, or an error for a malformed note. Only the
// five known labels are accepted; a Note with any other label is rejected
// with an error.
func ValidateNote(n Note) (validatedNote, error) {
	switch n.NoteLabel {
	case NoteNetKey:
		if err := validateNetKey(n.Data); err != nil {
			return validatedNote{}, err
		}
		return validatedNote{note: n, kind: NoteNetKey, netKey: n.Data}, nil
	case NoteIP:
		if err := validateIP(n.Data); err != nil {
			return validatedNote{}, err
		}
		return validatedNote{note: n, kind: NoteIP, ip: n.Data}, nil
	case NoteWsPort:
		port, err := validatePort(n.Data)
		if err != nil {
			return validatedNote{}, err
		}
		return validatedNote{note: n, kind: NoteWsPort, port: port}, nil
	case NoteTcpPort:
		port, err := validatePort(n.Data)
		if err != nil {
			return validatedNote{}, err
		}
		return validatedNote{note: n, kind: NoteTcpPort, port: port}, nil
	case NoteRouters:
		routers, err := validateRouters(n.Data)
		if err != nil {
			return validatedNote{}, err
		}
		return validatedNote{note: n, kind: NoteRouters, routers: routers}, nil
	default:
		return validatedNote{}, fmt.Errorf("unrecognized note label %q", n.NoteLabel)
	}
}

// ApplyTo mutates rec in place per §4.3's clearing invariant: setting
// ~routers clears ips/ports; setting ~ip or a port clears routers.
func (v validatedNote) ApplyTo(rec *HnsUpdate) {
	switch v.kind {
	case NoteNetKey:
		rec.PublicKey = v.netKey
	case NoteIP:
		rec.IP = v.ip
		rec.Routers = nil
	case NoteWsPort:
		rec.WsPort = v.port
		rec.HasWsPort = true
		rec.Routers = nil
	case NoteTcpPort:
		rec.TcpPort = v.port
		rec.HasTcpPort = true
		rec.Routers = nil
	case NoteRouters:
		rec.Routers = v.routers
		rec.IP = nil
		rec.HasWsPort = false
		rec.HasTcpPort = false
		rec.WsPort = 0
		rec.TcpPort = 0
	}
}
