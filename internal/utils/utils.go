package utils

import (
	"bufio"
	"fmt"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"io"
	"os"
	"path"
	"strings"
)

// AskForConfirmationDefaultYes prompts on stdout and reads the answer from r.
// An empty answer counts as yes.
func AskForConfirmationDefaultYes(r io.Reader, s string) bool {
	reader := bufio.NewReader(r)

	fmt.Printf("%s [Y/n]: ", s)

	response, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		log.Errorln(err)
		return false
	}

	response = strings.ToLower(strings.TrimSpace(response))

	switch response {
	case "y", "yes", "":
		return true
	default:
		return false
	}
}

// DumpOption writes opt as yaml to outputPath, creating the parent directory
func DumpOption(opt interface{}, outputPath string, overwrite bool) error {
	buffer, err := yaml.Marshal(opt)
	if err != nil {
		return err
	}

	parentPath := path.Dir(outputPath)
	if _, err := os.Stat(parentPath); os.IsNotExist(err) {
		if err = os.MkdirAll(parentPath, 0700); err != nil {
			return fmt.Errorf("cannot create directory %s: %w", parentPath, err)
		}
	}

	if !overwrite {
		if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
			ret := AskForConfirmationDefaultYes(os.Stdin, "configuration "+outputPath+" already exist, overwrite?")
			if !ret {
				log.Infoln("abort")
				return nil
			}
		}
	}

	log.Infoln("writing default configuration to", outputPath)
	f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("cannot open %s, check permissions: %w", outputPath, err)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	if _, err = w.Write(buffer); err != nil {
		return fmt.Errorf("cannot write configuration: %w", err)
	}
	return w.Flush()
}

// FormatTriple renders three floats as "a, b, c" with one decimal
func FormatTriple(arr [3]float32) string {
	parts := make([]string, len(arr))
	for i, num := range arr {
		parts[i] = fmt.Sprintf("%.1f", num)
	}
	return strings.Join(parts, ", ")
}
