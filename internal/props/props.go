// Package props reads and writes the key=value property files that describe
// a single module's metadata.
package props

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Block holds the properties loaded from one module property file.
type Block struct {
	ID          string
	Name        string
	Version     string
	VersionCode int64
	Author      string
	Description string
	MinAPI      int
	MaxAPI      int
	MinMagisk   int
	NeedRamdisk bool
	Support     string
	Donate      string
	Config      string
	ChangeBoot  bool
	MMTReborn   bool
	Safe        bool
}

// ParseError reports a property file that could not be parsed.
type ParseError struct {
	Line int
	Key  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("props: line %d: key %q: %v", e.Line, e.Key, e.Err)
	}
	return fmt.Sprintf("props: line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errNoSeparator = fmt.Errorf("missing '=' separator")

// Parse reads key=value lines from r into a Block. Blank lines and lines
// starting with '#' are skipped. Unknown keys are ignored so property files
// from newer modules keep loading. A line without '=' or a value that fails
// numeric/boolean conversion yields a *ParseError.
func Parse(r io.Reader) (*Block, error) {
	b := &Block{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sep := strings.IndexByte(line, '=')
		if sep == -1 {
			return nil, &ParseError{Line: lineNo, Err: errNoSeparator}
		}
		key := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if err := b.set(key, value); err != nil {
			return nil, &ParseError{Line: lineNo, Key: key, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

// ParseBytes is Parse over an in-memory property file.
func ParseBytes(data []byte) (*Block, error) {
	return Parse(bytes.NewReader(data))
}

func (b *Block) set(key, value string) error {
	switch key {
	case "id":
		b.ID = value
	case "name":
		b.Name = value
	case "version":
		b.Version = value
	case "versionCode":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		b.VersionCode = n
	case "author":
		b.Author = value
	case "description":
		b.Description = value
	case "minApi":
		return setInt(&b.MinAPI, value)
	case "maxApi":
		return setInt(&b.MaxAPI, value)
	case "minMagisk":
		return setInt(&b.MinMagisk, value)
	case "needRamdisk":
		return setBool(&b.NeedRamdisk, value)
	case "support":
		b.Support = value
	case "donate":
		b.Donate = value
	case "config":
		b.Config = value
	case "changeBoot":
		return setBool(&b.ChangeBoot, value)
	case "mmtReborn":
		return setBool(&b.MMTReborn, value)
	case "safe":
		return setBool(&b.Safe, value)
	default:
		// unknown key, ignore
	}
	return nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, value string) error {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// Marshal renders the block back to property-file bytes. Zero-valued fields
// are omitted; keys are emitted in a stable order.
func (b *Block) Marshal() []byte {
	kv := map[string]string{}
	put := func(key, value string) {
		if value != "" {
			kv[key] = value
		}
	}
	put("id", b.ID)
	put("name", b.Name)
	put("version", b.Version)
	if b.VersionCode != 0 {
		kv["versionCode"] = strconv.FormatInt(b.VersionCode, 10)
	}
	put("author", b.Author)
	put("description", b.Description)
	if b.MinAPI != 0 {
		kv["minApi"] = strconv.Itoa(b.MinAPI)
	}
	if b.MaxAPI != 0 {
		kv["maxApi"] = strconv.Itoa(b.MaxAPI)
	}
	if b.MinMagisk != 0 {
		kv["minMagisk"] = strconv.Itoa(b.MinMagisk)
	}
	if b.NeedRamdisk {
		kv["needRamdisk"] = "true"
	}
	put("support", b.Support)
	put("donate", b.Donate)
	put("config", b.Config)
	if b.ChangeBoot {
		kv["changeBoot"] = "true"
	}
	if b.MMTReborn {
		kv["mmtReborn"] = "true"
	}
	if b.Safe {
		kv["safe"] = "true"
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(kv[k])
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
