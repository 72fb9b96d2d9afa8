package printer

import (
	"fmt"
	"os"
	"path"

	"connect-agent/internal/command"
	"connect-agent/pkg/models"
)

// Built-in handlers for the service command vocabulary. Print control
// commands (START_PRINT, STOP_PRINT, ...) and GCODE are bound by the
// firmware integration through SetHandler; everything here can be
// answered by the engine itself.

// sendInfo answers SEND_INFO with the full device description.
func (p *Printer) sendInfo(*command.Command) (command.Result, error) {
	p.mu.Lock()
	info := map[string]any{
		"state":        string(p.state),
		"checked":      p.checked,
		"type":         p.printerType.Type,
		"version":      p.printerType.Version,
		"subversion":   p.printerType.Subversion,
		"firmware":     p.firmware,
		"sn":           p.serial,
		"network_info": p.network,
	}
	p.mu.Unlock()

	info["agent"] = agentVersion
	info["fingerprint"] = p.conn.Fingerprint()
	info["files"] = p.tree.Summary()

	return command.Result{
		Source: models.SourceConnect,
		Event:  models.EventInfo,
		Data:   info,
	}, nil
}

// sendFileInfo answers SEND_FILE_INFO for one file of the tree,
// enriched with extracted metadata and the biggest available
// thumbnail.
func (p *Printer) sendFileInfo(cmd *command.Command) (command.Result, error) {
	filePath, err := argString(cmd.Args, 0)
	if err != nil {
		return command.Result{}, fmt.Errorf("%s: %w", cmd.Name, err)
	}

	node, ok := p.tree.Lookup(filePath)
	if !ok {
		return command.Result{}, fmt.Errorf("file does not exist: %s", filePath)
	}
	if node.IsDir {
		return command.Result{}, fmt.Errorf("FILE_INFO doesn't work for directories")
	}

	info := map[string]any{
		"path":   node.Path,
		"size":   node.Size,
		"m_time": node.MTime,
	}

	if p.meta != nil && !isHidden(filePath) {
		osPath, err := p.tree.OSPath(filePath)
		if err == nil {
			if meta, err := p.meta.Extract(osPath); err == nil {
				for k, v := range meta.Fields {
					info[k] = v
				}
				if preview := biggestThumbnail(meta.Thumbnails); preview != nil {
					info["preview"] = string(preview)
				}
			} else {
				p.log.WithField("path", filePath).WithError(err).Debug("No metadata")
			}
		}
	}

	return command.Result{
		Source: models.SourceConnect,
		Event:  models.EventFileInfo,
		Data:   info,
	}, nil
}

func (p *Printer) createDirectory(cmd *command.Command) (command.Result, error) {
	osPath, err := p.argOSPath(cmd)
	if err != nil {
		return command.Result{}, err
	}
	if err := os.MkdirAll(osPath, 0o755); err != nil {
		return command.Result{}, err
	}
	return command.Result{Source: models.SourceConnect}, nil
}

func (p *Printer) deleteFile(cmd *command.Command) (command.Result, error) {
	osPath, err := p.argOSPath(cmd)
	if err != nil {
		return command.Result{}, err
	}
	fi, err := os.Stat(osPath)
	if err != nil {
		return command.Result{}, err
	}
	if fi.IsDir() {
		return command.Result{}, fmt.Errorf("%s is a directory", osPath)
	}
	if err := os.Remove(osPath); err != nil {
		return command.Result{}, err
	}
	return command.Result{Source: models.SourceConnect}, nil
}

func (p *Printer) deleteDirectory(cmd *command.Command) (command.Result, error) {
	osPath, err := p.argOSPath(cmd)
	if err != nil {
		return command.Result{}, err
	}
	fi, err := os.Stat(osPath)
	if err != nil {
		return command.Result{}, err
	}
	if !fi.IsDir() {
		return command.Result{}, fmt.Errorf("%s is not a directory", osPath)
	}
	if err := os.RemoveAll(osPath); err != nil {
		return command.Result{}, err
	}
	return command.Result{Source: models.SourceConnect}, nil
}

// downloadStart answers START_DOWNLOAD(url, destination, select, print).
func (p *Printer) downloadStart(cmd *command.Command) (command.Result, error) {
	if len(cmd.Args) != 4 {
		return command.Result{}, fmt.Errorf(
			"%s requires four args (url, destination, select, print)", cmd.Name)
	}
	url, err := argString(cmd.Args, 0)
	if err != nil {
		return command.Result{}, err
	}
	destination, err := argString(cmd.Args, 1)
	if err != nil {
		return command.Result{}, err
	}
	toSelect := argBool(cmd.Args, 2)
	toPrint := argBool(cmd.Args, 3)

	if err := p.downloads.Start(url, destination, toSelect, toPrint); err != nil {
		return command.Result{}, err
	}
	return command.Result{Source: models.SourceConnect}, nil
}

func (p *Printer) downloadStop(*command.Command) (command.Result, error) {
	p.downloads.Stop()
	return command.Result{Source: models.SourceConnect}, nil
}

func (p *Printer) downloadInfo(*command.Command) (command.Result, error) {
	return command.Result{
		Source: models.SourceConnect,
		Event:  models.EventDownloadInfo,
		Data:   p.downloads.Info(),
	}, nil
}

func (p *Printer) setPrinterPrepared(*command.Command) (command.Result, error) {
	p.mu.Lock()
	p.state = models.StatePrepared
	checked := p.checked
	p.mu.Unlock()

	return command.Result{
		Source: models.SourceConnect,
		Event:  models.EventStateChanged,
		Data: map[string]any{
			"state":   string(models.StatePrepared),
			"checked": checked,
		},
	}, nil
}

// argOSPath resolves the first command argument as a path on disk.
func (p *Printer) argOSPath(cmd *command.Command) (string, error) {
	virtual, err := argString(cmd.Args, 0)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return p.tree.OSPath(virtual)
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d is not a string", i)
	}
	return s, nil
}

// argBool is permissive: the service historically sends booleans as
// true/false, 0/1 or "1".
func argBool(args []any, i int) bool {
	if i >= len(args) {
		return false
	}
	switch v := args[i].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "1" || v == "true" || v == "True"
	default:
		return false
	}
}

func isHidden(p string) bool {
	base := path.Base(p)
	return len(base) > 0 && base[0] == '.'
}

// biggestThumbnail picks the largest of the extracted previews.
func biggestThumbnail(thumbnails map[string][]byte) []byte {
	var biggest []byte
	for _, data := range thumbnails {
		if len(data) > len(biggest) {
			biggest = data
		}
	}
	return biggest
}
