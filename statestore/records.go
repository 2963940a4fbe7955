package statestore

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vmihailenco/msgpack/v4"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// Key prefixes, one per table.
const (
	codeManufacturer byte = 0x01
	codeUpdate       byte = 0x02
	codeNotification byte = 0x03
	codeAcceptance   byte = 0x04
	codeDelivery     byte = 0x05
	codeInstallation byte = 0x06
	codeEvent        byte = 0x07
	codeMeta         byte = 0x08
)

var metaOwnerKey = []byte{codeMeta, 'o', 'w', 'n', 'e', 'r'}

func makeKey(code byte, parts ...[]byte) []byte {
	key := []byte{code}
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func manufacturerKey(p interfaces.Principal) []byte { return makeKey(codeManufacturer, p[:]) }
func updateKey(uid string) []byte                   { return makeKey(codeUpdate, []byte(uid)) }
func notificationKey(uid string) []byte             { return makeKey(codeNotification, []byte(uid)) }

// Pair keys put the fixed-size principal first so the variable-length uid can
// be recovered from the remainder.
func acceptanceKey(k interfaces.PairKey) []byte {
	return makeKey(codeAcceptance, k.Principal[:], []byte(k.UID))
}

func deliveryKey(k interfaces.PairKey) []byte {
	return makeKey(codeDelivery, k.Principal[:], []byte(k.UID))
}

func installationKey(i interfaces.Installation) []byte {
	return makeKey(codeInstallation, i.Buyer[:], i.Device[:], []byte(i.UID))
}

func eventKey(seq uint64) []byte {
	return makeKey(codeEvent, binary.BigEndian.AppendUint64(nil, seq))
}

func decodePairKey(key []byte) (interfaces.PairKey, error) {
	if len(key) < 1+common.AddressLength {
		return interfaces.PairKey{}, fmt.Errorf("malformed pair key %x", key)
	}
	return interfaces.PairKey{
		Principal: common.BytesToAddress(key[1 : 1+common.AddressLength]),
		UID:       string(key[1+common.AddressLength:]),
	}, nil
}

func decodeInstallationKey(key []byte) (interfaces.Installation, error) {
	const fixed = 1 + 2*common.AddressLength
	if len(key) < fixed {
		return interfaces.Installation{}, fmt.Errorf("malformed installation key %x", key)
	}
	return interfaces.Installation{
		Buyer:  common.BytesToAddress(key[1 : 1+common.AddressLength]),
		Device: common.BytesToAddress(key[1+common.AddressLength : fixed]),
		UID:    string(key[fixed:]),
	}, nil
}

// Amounts are stored as decimal strings, principals and hashes as raw bytes.

type manufacturerRecord struct {
	Address []byte
	Name    string
	Active  bool
}

type updateRecord struct {
	UID          string
	Hash         []byte
	EncryptedKey []byte
	Signature    []byte
	Price        string
	Active       bool
	CreatedAt    uint64
	Manufacturer []byte
	Index        uint64
}

type notificationRecord struct {
	UID          string
	Description  string
	Manufacturer []byte
	Security     bool
	BugFix       bool
	Feature      bool
	SecurityDesc string
	BugFixDesc   string
	FeatureDesc  string
	IssuedAt     uint64
}

type deliveryRecord struct {
	Amount      string
	DeliveredAt uint64
}

type eventRecord struct {
	Seq       uint64
	Kind      string
	UID       string
	Principal []byte
	Amount    string
	Time      uint64
}

func encodeManufacturer(m interfaces.Manufacturer) ([]byte, error) {
	return msgpack.Marshal(&manufacturerRecord{Address: m.Address.Bytes(), Name: m.Name, Active: m.Active})
}

func decodeManufacturer(val []byte) (interfaces.Manufacturer, error) {
	var r manufacturerRecord
	if err := msgpack.Unmarshal(val, &r); err != nil {
		return interfaces.Manufacturer{}, fmt.Errorf("could not decode manufacturer: %w", err)
	}
	return interfaces.Manufacturer{Address: common.BytesToAddress(r.Address), Name: r.Name, Active: r.Active}, nil
}

func encodeUpdate(u interfaces.Update) ([]byte, error) {
	return msgpack.Marshal(&updateRecord{
		UID:          u.UID,
		Hash:         u.Hash[:],
		EncryptedKey: u.EncryptedKey,
		Signature:    u.Signature,
		Price:        amountString(u.Price),
		Active:       u.Active,
		CreatedAt:    u.CreatedAt,
		Manufacturer: u.Manufacturer.Bytes(),
		Index:        u.Index,
	})
}

func decodeUpdate(val []byte) (interfaces.Update, error) {
	var r updateRecord
	if err := msgpack.Unmarshal(val, &r); err != nil {
		return interfaces.Update{}, fmt.Errorf("could not decode update: %w", err)
	}
	price, err := parseAmount(r.Price)
	if err != nil {
		return interfaces.Update{}, fmt.Errorf("update %s: %w", r.UID, err)
	}
	u := interfaces.Update{
		UID:          r.UID,
		EncryptedKey: r.EncryptedKey,
		Signature:    r.Signature,
		Price:        price,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
		Manufacturer: common.BytesToAddress(r.Manufacturer),
		Index:        r.Index,
	}
	copy(u.Hash[:], r.Hash)
	return u, nil
}

func encodeNotification(n interfaces.Notification) ([]byte, error) {
	return msgpack.Marshal(&notificationRecord{
		UID:          n.UID,
		Description:  n.Description,
		Manufacturer: n.Manufacturer.Bytes(),
		Security:     n.Security,
		BugFix:       n.BugFix,
		Feature:      n.Feature,
		SecurityDesc: n.SecurityDesc,
		BugFixDesc:   n.BugFixDesc,
		FeatureDesc:  n.FeatureDesc,
		IssuedAt:     n.IssuedAt,
	})
}

func decodeNotification(val []byte) (interfaces.Notification, error) {
	var r notificationRecord
	if err := msgpack.Unmarshal(val, &r); err != nil {
		return interfaces.Notification{}, fmt.Errorf("could not decode notification: %w", err)
	}
	return interfaces.Notification{
		UID:          r.UID,
		Description:  r.Description,
		Manufacturer: common.BytesToAddress(r.Manufacturer),
		Security:     r.Security,
		BugFix:       r.BugFix,
		Feature:      r.Feature,
		SecurityDesc: r.SecurityDesc,
		BugFixDesc:   r.BugFixDesc,
		FeatureDesc:  r.FeatureDesc,
		IssuedAt:     r.IssuedAt,
	}, nil
}

func encodeDelivery(d interfaces.Delivery) ([]byte, error) {
	return msgpack.Marshal(&deliveryRecord{Amount: amountString(d.Amount), DeliveredAt: d.DeliveredAt})
}

func decodeDelivery(key interfaces.PairKey, val []byte) (interfaces.Delivery, error) {
	var r deliveryRecord
	if err := msgpack.Unmarshal(val, &r); err != nil {
		return interfaces.Delivery{}, fmt.Errorf("could not decode delivery: %w", err)
	}
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return interfaces.Delivery{}, fmt.Errorf("delivery %s: %w", key.UID, err)
	}
	return interfaces.Delivery{UID: key.UID, Buyer: key.Principal, Amount: amount, DeliveredAt: r.DeliveredAt}, nil
}

func encodeEvent(e interfaces.Event) ([]byte, error) {
	return msgpack.Marshal(&eventRecord{
		Seq:       e.Seq,
		Kind:      string(e.Kind),
		UID:       e.UID,
		Principal: e.Principal.Bytes(),
		Amount:    amountString(e.Amount),
		Time:      e.Time,
	})
}

func decodeEvent(val []byte) (interfaces.Event, error) {
	var r eventRecord
	if err := msgpack.Unmarshal(val, &r); err != nil {
		return interfaces.Event{}, fmt.Errorf("could not decode event: %w", err)
	}
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return interfaces.Event{}, fmt.Errorf("event %d: %w", r.Seq, err)
	}
	return interfaces.Event{
		Seq:       r.Seq,
		Kind:      interfaces.EventKind(r.Kind),
		UID:       r.UID,
		Principal: common.BytesToAddress(r.Principal),
		Amount:    amount,
		Time:      r.Time,
	}, nil
}

// amountString returns "" for nil so optional amounts survive a round trip.
func amountString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
