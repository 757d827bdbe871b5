package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-reader/internal/procexec"
)

type execExtractor struct {
	command procexec.Command
}

// NewExecExtractor runs command with "--image <path>" appended and expects
// {"text": "..."} on stdout.
func NewExecExtractor(command string) (Extractor, error) {
	cmd, err := procexec.Parse("ocr", command)
	if err != nil {
		return nil, err
	}
	return &execExtractor{command: cmd}, nil
}

func (e *execExtractor) ExtractText(ctx context.Context, imagePath string) (string, error) {
	if strings.TrimSpace(imagePath) == "" {
		return "", errNoImage
	}
	out, err := e.command.Args("--image", imagePath).Run(ctx)
	if err != nil {
		return "", err
	}
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return "", nil
	}
	var res struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return res.Text, nil
}
