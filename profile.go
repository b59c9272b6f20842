// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Container signature constants shared by the three title families.
const (
	// obscure1Magic is the 12-byte text signature of the first Obscure title.
	obscure1Magic = "HV PackFile\x00"
	// obscure1Major is the only known major container version of that family.
	obscure1Major = 1
	// obscure1MinorCRC is the minor version that introduced live CRC fields.
	// Older archives carry zeroes there and skip checksum validation.
	obscure1MinorCRC = 1
	// obscure2Version is the u32 signature of Obscure II containers,
	// serialized in the platform byte order.
	obscure2Version uint32 = 0x00040000
	// finalExamVersion is the u32 signature of Final Exam containers.
	finalExamVersion uint32 = 0x00050000
)

// fieldSpec locates one fixed-width integer field inside a header or entry
// record. A zero width marks the field absent from the layout.
type fieldSpec struct {
	// off is the byte offset from the start of the header or record.
	off int
	// width is the field width in bytes; zero means absent.
	width int
}

// present reports whether the layout carries this field.
func (f fieldSpec) present() bool {
	return f.width > 0
}

// headerLayout describes the fixed container header of one title family.
type headerLayout struct {
	// magic is the signature byte sequence located at magicOff.
	magic []byte
	// magicOff is the signature offset from the start of the file.
	magicOff int
	// size is the full fixed header length in bytes.
	size int
	// major and minor are container version fields (Obscure 1 family only).
	major fieldSpec
	minor fieldSpec
	// reserved is a zero u32 after the signature (Obscure II / Final Exam).
	reserved fieldSpec
	// entryCount is the number of entry records in the table.
	entryCount fieldSpec
	// tableOffset locates the entry table; absent means it follows the header.
	tableOffset fieldSpec
	// dataOffset locates the start of the payload region.
	dataOffset fieldSpec
	// tableCRC is the CRC32 of the serialized entry table.
	tableCRC fieldSpec
}

// recordLayout describes one fixed-stride entry record of a title family.
type recordLayout struct {
	// stride is the full record length in bytes.
	stride int
	// nameHash is the CRC32 of the encoded name (Obscure II / Final Exam).
	nameHash fieldSpec
	// nameOff and nameLen bound the NUL-padded windows-1250 name field.
	nameOff int
	nameLen int
	// flags stores the per-entry compression flag.
	flags fieldSpec
	// checksum stores the signed payload word sum.
	checksum fieldSpec
	// rawSize, offset and storedSize are the payload geometry fields.
	rawSize    fieldSpec
	offset     fieldSpec
	storedSize fieldSpec
}

// GameProfile is an immutable descriptor of one (game, platform) container
// variant. The reader and writer are written purely in terms of profile
// parameters; adding a platform means adding one registry row.
type GameProfile struct {
	// ID is the registry key, e.g. "obscure1-pc". Lookup is case-insensitive.
	ID string `json:"id" yaml:"id"`
	// Game is the title name.
	Game string `json:"game" yaml:"game"`
	// Platform is the hardware platform name.
	Platform string `json:"platform" yaml:"platform"`
	// Order is the byte order of all header and record integer fields.
	Order binary.ByteOrder `json:"-" yaml:"-"`
	// Align is the payload start alignment in bytes; gaps are zero-filled.
	Align int `json:"align" yaml:"align"`
	// Scheme is the compression scheme applied to flagged entries.
	Scheme CompressionScheme `json:"scheme" yaml:"scheme"`

	// header and record hold the fixed binary layout of this variant.
	header headerLayout
	record recordLayout
}

// String returns the profile identifier.
func (p *GameProfile) String() string {
	return p.ID
}

// Endianness returns "big" or "little" for display purposes.
func (p *GameProfile) Endianness() string {
	if p.Order == binary.BigEndian {
		return "big"
	}

	return "little"
}

// NameLimit returns the longest encoded entry name this profile can store.
func (p *GameProfile) NameLimit() int {
	return p.record.nameLen
}

// Shared family layouts. The Obscure 1 variants differ only in byte order
// and alignment; Obscure II and Final Exam additionally serialize their u32
// signature in the platform byte order, so their header layouts are built
// per byte order.
var (
	obscure1HeaderLayout = headerLayout{
		magic:       []byte(obscure1Magic),
		size:        32,
		major:       fieldSpec{off: 12, width: 2},
		minor:       fieldSpec{off: 14, width: 2},
		entryCount:  fieldSpec{off: 16, width: 4},
		tableOffset: fieldSpec{off: 20, width: 4},
		dataOffset:  fieldSpec{off: 24, width: 4},
		tableCRC:    fieldSpec{off: 28, width: 4},
	}

	obscure1RecordLayout = recordLayout{
		stride:     76,
		nameOff:    0,
		nameLen:    56,
		flags:      fieldSpec{off: 56, width: 4},
		checksum:   fieldSpec{off: 60, width: 4},
		rawSize:    fieldSpec{off: 64, width: 4},
		offset:     fieldSpec{off: 68, width: 4},
		storedSize: fieldSpec{off: 72, width: 4},
	}

	obscure2RecordLayout = recordLayout{
		stride:     72,
		nameHash:   fieldSpec{off: 0, width: 4},
		nameOff:    4,
		nameLen:    48,
		flags:      fieldSpec{off: 52, width: 2},
		checksum:   fieldSpec{off: 56, width: 4},
		rawSize:    fieldSpec{off: 60, width: 4},
		offset:     fieldSpec{off: 64, width: 4},
		storedSize: fieldSpec{off: 68, width: 4},
	}

	finalExamRecordLayout = recordLayout{
		stride:     88,
		nameHash:   fieldSpec{off: 0, width: 4},
		nameOff:    4,
		nameLen:    64,
		flags:      fieldSpec{off: 68, width: 4},
		checksum:   fieldSpec{off: 72, width: 4},
		rawSize:    fieldSpec{off: 76, width: 4},
		offset:     fieldSpec{off: 80, width: 4},
		storedSize: fieldSpec{off: 84, width: 4},
	}
)

// versionMagic serializes a u32 container signature in the given byte order.
func versionMagic(version uint32, bo binary.ByteOrder) []byte {
	out := make([]byte, 4)
	bo.PutUint32(out, version)
	return out
}

// obscure2HeaderLayout builds the Obscure II header layout for one byte order.
func obscure2HeaderLayout(bo binary.ByteOrder) headerLayout {
	return headerLayout{
		magic:      versionMagic(obscure2Version, bo),
		size:       20,
		reserved:   fieldSpec{off: 4, width: 4},
		entryCount: fieldSpec{off: 8, width: 4},
		dataOffset: fieldSpec{off: 12, width: 4},
		tableCRC:   fieldSpec{off: 16, width: 4},
	}
}

// finalExamHeaderLayout builds the Final Exam header layout for one byte order.
func finalExamHeaderLayout(bo binary.ByteOrder) headerLayout {
	return headerLayout{
		magic:       versionMagic(finalExamVersion, bo),
		size:        24,
		reserved:    fieldSpec{off: 4, width: 4},
		entryCount:  fieldSpec{off: 8, width: 4},
		tableOffset: fieldSpec{off: 12, width: 4},
		dataOffset:  fieldSpec{off: 16, width: 4},
		tableCRC:    fieldSpec{off: 20, width: 4},
	}
}

// registry lists all known profiles in detection priority order. The order
// is part of the detection contract: ambiguous headers resolve to the first
// matching profile, so the common PC variants come before console ones.
var registry = []*GameProfile{
	{
		ID: "obscure1-pc", Game: "Obscure", Platform: "PC",
		Order: binary.BigEndian, Align: 1, Scheme: SchemeZlib,
		header: obscure1HeaderLayout, record: obscure1RecordLayout,
	},
	{
		ID: "obscure1-ps2", Game: "Obscure", Platform: "PS2",
		Order: binary.LittleEndian, Align: 16, Scheme: SchemeZlib,
		header: obscure1HeaderLayout, record: obscure1RecordLayout,
	},
	{
		ID: "obscure1-xbox", Game: "Obscure", Platform: "Xbox",
		Order: binary.LittleEndian, Align: 4, Scheme: SchemeZlib,
		header: obscure1HeaderLayout, record: obscure1RecordLayout,
	},
	{
		ID: "obscure2-pc", Game: "Obscure II", Platform: "PC",
		Order: binary.LittleEndian, Align: 4, Scheme: SchemeLZO,
		header: obscure2HeaderLayout(binary.LittleEndian), record: obscure2RecordLayout,
	},
	{
		ID: "obscure2-ps2", Game: "Obscure II", Platform: "PS2",
		Order: binary.LittleEndian, Align: 16, Scheme: SchemeLZO,
		header: obscure2HeaderLayout(binary.LittleEndian), record: obscure2RecordLayout,
	},
	{
		ID: "obscure2-psp", Game: "Obscure II", Platform: "PSP",
		Order: binary.LittleEndian, Align: 16, Scheme: SchemeLZO,
		header: obscure2HeaderLayout(binary.LittleEndian), record: obscure2RecordLayout,
	},
	{
		ID: "obscure2-wii", Game: "Obscure II", Platform: "Wii",
		Order: binary.BigEndian, Align: 32, Scheme: SchemeLZO,
		header: obscure2HeaderLayout(binary.BigEndian), record: obscure2RecordLayout,
	},
	{
		ID: "finalexam-pc", Game: "Final Exam", Platform: "PC",
		Order: binary.LittleEndian, Align: 4, Scheme: SchemeLZO,
		header: finalExamHeaderLayout(binary.LittleEndian), record: finalExamRecordLayout,
	},
	{
		ID: "finalexam-ps3", Game: "Final Exam", Platform: "PS3",
		Order: binary.BigEndian, Align: 32, Scheme: SchemeLZO,
		header: finalExamHeaderLayout(binary.BigEndian), record: finalExamRecordLayout,
	},
	{
		ID: "finalexam-x360", Game: "Final Exam", Platform: "Xbox 360",
		Order: binary.BigEndian, Align: 32, Scheme: SchemeLZO,
		header: finalExamHeaderLayout(binary.BigEndian), record: finalExamRecordLayout,
	},
}

// Profiles returns all registered profiles in detection priority order.
func Profiles() []*GameProfile {
	out := make([]*GameProfile, len(registry))
	copy(out, registry)
	return out
}

// LookupProfile resolves a profile by identifier, case-insensitively.
func LookupProfile(id string) (*GameProfile, error) {
	wanted := strings.TrimSpace(id)
	for _, p := range registry {
		if strings.EqualFold(p.ID, wanted) {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, id)
}

// headerInfo holds decoded header fields in profile-independent form.
type headerInfo struct {
	// major and minor are container version values; zero when absent.
	major uint16
	minor uint16
	// reserved is the post-signature zero word; zero when absent.
	reserved uint32
	// count is the declared number of entry records.
	count int64
	// tableOff is the resolved absolute entry table offset.
	tableOff int64
	// dataOff is the declared payload region start.
	dataOff int64
	// tableCRC is the declared entry table CRC32.
	tableCRC uint32
	// crcLive reports whether the CRC fields are meaningful for this header.
	crcLive bool
}

// tableEnd returns the absolute offset just past the entry table.
func (h headerInfo) tableEnd(p *GameProfile) int64 {
	return h.tableOff + h.count*int64(p.record.stride)
}

// hasMagic reports whether buf carries this profile's signature bytes.
func (p *GameProfile) hasMagic(buf []byte) bool {
	end := p.header.magicOff + len(p.header.magic)
	if len(buf) < end {
		return false
	}

	return bytes.Equal(buf[p.header.magicOff:end], p.header.magic)
}

// headerField reads one optional header field from the cursor.
func (p *GameProfile) headerField(c *cursor, f fieldSpec) (uint64, error) {
	if !f.present() {
		return 0, nil
	}

	if err := c.seek(f.off); err != nil {
		return 0, err
	}

	return c.uint(p.Order, f.width)
}

// decodeHeader parses the fixed header fields from buf.
// buf must hold at least the profile header size.
func (p *GameProfile) decodeHeader(buf []byte) (headerInfo, error) {
	var h headerInfo

	if len(buf) < p.header.size {
		return h, fmt.Errorf("%w: header needs %d bytes, have %d", ErrOutOfBounds, p.header.size, len(buf))
	}

	c := newCursor(buf[:p.header.size])

	major, err := p.headerField(c, p.header.major)
	if err != nil {
		return h, err
	}

	minor, err := p.headerField(c, p.header.minor)
	if err != nil {
		return h, err
	}

	reserved, err := p.headerField(c, p.header.reserved)
	if err != nil {
		return h, err
	}

	count, err := p.headerField(c, p.header.entryCount)
	if err != nil {
		return h, err
	}

	tableOff, err := p.headerField(c, p.header.tableOffset)
	if err != nil {
		return h, err
	}

	dataOff, err := p.headerField(c, p.header.dataOffset)
	if err != nil {
		return h, err
	}

	crc, err := p.headerField(c, p.header.tableCRC)
	if err != nil {
		return h, err
	}

	h.major = uint16(major)
	h.minor = uint16(minor)
	h.reserved = uint32(reserved)
	h.count = int64(count)
	h.tableOff = int64(tableOff)
	if !p.header.tableOffset.present() {
		h.tableOff = int64(p.header.size)
	}
	h.dataOff = int64(dataOff)
	h.tableCRC = uint32(crc)
	h.crcLive = p.header.tableCRC.present()
	if p.header.minor.present() && h.minor < obscure1MinorCRC {
		h.crcLive = false
	}

	return h, nil
}

// encodeHeader serializes the fixed header. A non-nil template of the exact
// header size seeds reserved and unknown bytes so rebuilds never zero fields
// the engine may depend on; a nil template produces a fresh current-version
// header.
func (p *GameProfile) encodeHeader(template []byte, count int64, tableOff, dataOff int64, crc uint32) ([]byte, error) {
	buf := make([]byte, p.header.size)
	if template != nil {
		if len(template) != p.header.size {
			return nil, fmt.Errorf("%w: header template is %d bytes, want %d", ErrCorruptData, len(template), p.header.size)
		}

		copy(buf, template)
	}

	c := newCursor(buf)
	copy(buf[p.header.magicOff:], p.header.magic)

	if template == nil && p.header.major.present() {
		if err := c.seek(p.header.major.off); err != nil {
			return nil, err
		}
		if err := c.putUint(obscure1Major, p.Order, p.header.major.width); err != nil {
			return nil, err
		}
		if err := c.seek(p.header.minor.off); err != nil {
			return nil, err
		}
		if err := c.putUint(obscure1MinorCRC, p.Order, p.header.minor.width); err != nil {
			return nil, err
		}
	}

	if err := p.putHeaderField(c, p.header.entryCount, uint64(count), "entry count"); err != nil {
		return nil, err
	}

	if err := p.putHeaderField(c, p.header.tableOffset, uint64(tableOff), "table offset"); err != nil {
		return nil, err
	}

	if err := p.putHeaderField(c, p.header.dataOffset, uint64(dataOff), "data offset"); err != nil {
		return nil, err
	}

	if p.headerCRCLive(buf) {
		if err := p.putHeaderField(c, p.header.tableCRC, uint64(crc), "table checksum"); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// putHeaderField writes one optional header field with width overflow mapping.
func (p *GameProfile) putHeaderField(c *cursor, f fieldSpec, v uint64, what string) error {
	if !f.present() {
		return nil
	}

	if err := c.seek(f.off); err != nil {
		return err
	}

	if err := c.putUint(v, p.Order, f.width); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEntryTooLarge, what, err)
	}

	return nil
}

// headerCRCLive reports whether the CRC fields of this header are meaningful.
// Obscure 1 archives older than minor version 1 carry dead CRC bytes.
func (p *GameProfile) headerCRCLive(header []byte) bool {
	if !p.header.tableCRC.present() {
		return false
	}

	if !p.header.minor.present() {
		return true
	}

	c := newCursor(header)
	minor, err := p.headerField(c, p.header.minor)
	if err != nil {
		return false
	}

	return uint16(minor) >= obscure1MinorCRC
}

// decodeRecord parses one fixed-stride entry record.
func (p *GameProfile) decodeRecord(rec []byte) (Entry, error) {
	var e Entry

	if len(rec) < p.record.stride {
		return e, fmt.Errorf("%w: record needs %d bytes, have %d", ErrOutOfBounds, p.record.stride, len(rec))
	}

	c := newCursor(rec[:p.record.stride])

	if p.record.nameHash.present() {
		hash, err := p.headerField(c, p.record.nameHash)
		if err != nil {
			return e, err
		}

		e.NameHash = uint32(hash)
	}

	nameField := rec[p.record.nameOff : p.record.nameOff+p.record.nameLen]
	wireName := nameField
	if idx := bytes.IndexByte(nameField, 0); idx >= 0 {
		wireName = nameField[:idx]
	}
	if len(wireName) == 0 {
		return e, fmt.Errorf("%w: empty entry name", ErrCorruptData)
	}

	name, err := decodeEntryName(wireName)
	if err != nil {
		return e, fmt.Errorf("%w: entry name: %w", ErrCorruptData, err)
	}
	e.Name = name

	flags, err := p.headerField(c, p.record.flags)
	if err != nil {
		return e, err
	}
	switch flags {
	case 0:
		e.Compressed = false
	case 1:
		e.Compressed = true
	default:
		return e, fmt.Errorf("%w: unknown entry flag %d", ErrCorruptData, flags)
	}

	sum, err := p.headerField(c, p.record.checksum)
	if err != nil {
		return e, err
	}
	e.Checksum = int32(uint32(sum))

	rawSize, err := p.headerField(c, p.record.rawSize)
	if err != nil {
		return e, err
	}
	e.RawSize = rawSize

	offset, err := p.headerField(c, p.record.offset)
	if err != nil {
		return e, err
	}
	e.Offset = offset

	storedSize, err := p.headerField(c, p.record.storedSize)
	if err != nil {
		return e, err
	}
	e.StoredSize = storedSize

	return e, nil
}

// encodeRecord serializes one entry into a fixed-stride record.
// The name hash is always computed fresh from the encoded name.
func (p *GameProfile) encodeRecord(e Entry) ([]byte, error) {
	wireName, err := encodeEntryName(e.Name)
	if err != nil {
		return nil, err
	}

	if len(wireName) > p.record.nameLen {
		return nil, fmt.Errorf("%w: %q needs %d bytes, profile allows %d",
			ErrEntryNameTooLong, e.Name, len(wireName), p.record.nameLen)
	}

	buf := make([]byte, p.record.stride)
	c := newCursor(buf)

	if p.record.nameHash.present() {
		if err := p.putRecordField(c, p.record.nameHash, uint64(nameChecksum(wireName)), e.Name, "name hash"); err != nil {
			return nil, err
		}
	}

	copy(buf[p.record.nameOff:p.record.nameOff+p.record.nameLen], wireName)

	var flags uint64
	if e.Compressed {
		flags = 1
	}
	if err := p.putRecordField(c, p.record.flags, flags, e.Name, "flags"); err != nil {
		return nil, err
	}

	if err := p.putRecordField(c, p.record.checksum, uint64(uint32(e.Checksum)), e.Name, "checksum"); err != nil {
		return nil, err
	}

	if err := p.putRecordField(c, p.record.rawSize, e.RawSize, e.Name, "raw size"); err != nil {
		return nil, err
	}

	if err := p.putRecordField(c, p.record.offset, e.Offset, e.Name, "offset"); err != nil {
		return nil, err
	}

	if err := p.putRecordField(c, p.record.storedSize, e.StoredSize, e.Name, "stored size"); err != nil {
		return nil, err
	}

	return buf, nil
}

// putRecordField writes one record field and maps width overflow to ErrEntryTooLarge.
func (p *GameProfile) putRecordField(c *cursor, f fieldSpec, v uint64, name, what string) error {
	if !f.present() {
		return nil
	}

	if err := c.seek(f.off); err != nil {
		return err
	}

	if err := c.putUint(v, p.Order, f.width); err != nil {
		return fmt.Errorf("%w: entry %s: %s: %w", ErrEntryTooLarge, name, what, err)
	}

	return nil
}
