package anonymizer

import (
	"encoding/binary"
	"strconv"

	"github.com/bwNetFlow/flowanon/anonymizer/hashstore"
	"github.com/pkg/errors"
)

// allocateASN stores real AS number plus the AS offset, wrapping at 2^32.
func (e *Engine) allocateASN(key []byte) (*hashstore.Entry, error) {
	entry, err := e.hosts.Insert(KindAsNumber, key)
	if err != nil {
		return nil, err
	}
	entry.Sub = make([]byte, 4)
	binary.BigEndian.PutUint32(entry.Sub, binary.BigEndian.Uint32(key)+e.offsets.Asn)
	e.stats.AsNumbers++
	return entry, nil
}

func (e *Engine) addAsnTranslation(t Translation) error {
	orig, err := strconv.ParseUint(t.From, 10, 32)
	if err != nil {
		return errors.Wrapf(ErrSyntax, "specify_asn_translation %s::%s", t.From, t.To)
	}
	anon, err := strconv.ParseUint(t.To, 10, 32)
	if err != nil {
		return errors.Wrapf(ErrSyntax, "specify_asn_translation %s::%s", t.From, t.To)
	}
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(orig))
	entry, err := e.hosts.Insert(KindAsNumber, key)
	if err != nil {
		return errors.Wrapf(err, "specify_asn_translation: AS%d already allocated", orig)
	}
	entry.Sub = make([]byte, 4)
	binary.BigEndian.PutUint32(entry.Sub, uint32(anon))
	return nil
}
