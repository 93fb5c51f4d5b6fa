package setup

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/robfig/cron/v3"

	"github.com/kebairia/jujubackup/internal/fileutil"
)

const cronPath = "/usr/bin:/bin:/snap/bin"

var crontabTemplate = template.Must(template.New("crontab").Parse(
	"PATH={{ .Path }}\n" +
		"{{ .Schedule }} {{ .User }} {{ .Binary }} run --config {{ .Config }} --debug" +
		" --purge {{ .RetentionDays }} --task-timeout {{ .TimeoutSeconds }} >> {{ .LogFile }} 2>&1\n",
))

var nrpeTemplate = template.Must(template.New("nrpe").Parse(
	"# check juju_backup_all_results\n" +
		"command[{{ .Name }}]={{ .Binary }} check -f {{ .ResultsFile }} -a {{ .MaxAge }}\n",
))

// NRPECheckName is the short name of the monitoring check.
const NRPECheckName = "check_juju_backup_all_results"

// RenderCrontab renders the cron.d entry running the scheduled job.
func (p *Provisioner) RenderCrontab(binary, configPath string) (string, error) {
	if _, err := cron.ParseStandard(p.cfg.Backup.Schedule); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", p.cfg.Backup.Schedule, err)
	}
	var buf bytes.Buffer
	err := crontabTemplate.Execute(&buf, map[string]string{
		"Path":           cronPath,
		"Schedule":       p.cfg.Backup.Schedule,
		"User":           p.cfg.Backup.User,
		"Binary":         binary,
		"Config":         configPath,
		"RetentionDays":  strconv.Itoa(p.cfg.Backup.RetentionDays),
		"TimeoutSeconds": strconv.Itoa(int(p.cfg.Backup.TaskTimeout.Seconds())),
		"LogFile":        p.cfg.Paths.LogFile,
	})
	if err != nil {
		return "", fmt.Errorf("render crontab: %w", err)
	}
	return buf.String(), nil
}

// UpdateCrontab writes the cron.d entry.
func (p *Provisioner) UpdateCrontab(binary, configPath string) error {
	content, err := p.RenderCrontab(binary, configPath)
	if err != nil {
		return err
	}
	if err := fileutil.EnsureDirectoryExist(filepath.Dir(p.cfg.Paths.Crontab), 0o755); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(p.cfg.Paths.Crontab, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write crontab: %w", err)
	}
	p.log.Info("crontab updated", "path", p.cfg.Paths.Crontab, "schedule", p.cfg.Backup.Schedule)
	return nil
}

// ConfigureNRPE installs the NRPE command definition for the results check.
// Nothing is written when the NRPE configuration directory is absent.
func (p *Provisioner) ConfigureNRPE(binary string) (bool, error) {
	dir := p.cfg.Paths.NRPEDir
	if !fileutil.DirExists(dir) {
		p.log.Warn("nrpe directory does not exist, skip configuring check", "dir", dir)
		return false, nil
	}
	var buf bytes.Buffer
	err := nrpeTemplate.Execute(&buf, map[string]string{
		"Name":        NRPECheckName,
		"Binary":      binary,
		"ResultsFile": p.cfg.Paths.ResultsFile,
		"MaxAge":      strconv.Itoa(p.cfg.Monitoring.ResultsMaxAgeHours),
	})
	if err != nil {
		return false, fmt.Errorf("render nrpe check: %w", err)
	}
	path := filepath.Join(dir, NRPECheckName+".cfg")
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("write nrpe check: %w", err)
	}
	p.log.Info("nrpe check configured", "path", path)
	return true, nil
}
