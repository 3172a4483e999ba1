package file_helper

import (
	"errors"
	"io"
	"os"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

// headerSize is the number of leading bytes filetype needs to identify any
// format it knows about.
const headerSize = 261

// Kind is the sniffed content class of a file.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindVideo
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// GetFileStat opens path, reads its header and returns the file info together
// with the matched filetype.
func GetFileStat(path string) (os.FileInfo, types.Type, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, filetype.Unknown, err
	}
	defer file.Close()

	head := make([]byte, headerSize)
	n, err := file.Read(head)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, filetype.Unknown, err
	}

	kind, _ := filetype.Match(head[:n])

	info, err := file.Stat()
	if err != nil {
		return nil, kind, err
	}
	return info, kind, nil
}

// Sniff classifies the file at path by its header bytes.
func Sniff(path string) (Kind, error) {
	_, kind, err := GetFileStat(path)
	if err != nil {
		return KindUnknown, err
	}
	return classify(kind), nil
}

func classify(kind types.Type) Kind {
	if kind == filetype.Unknown {
		return KindUnknown
	}
	switch kind.MIME.Type {
	case "image":
		return KindImage
	case "video":
		return KindVideo
	default:
		return KindOther
	}
}
