package exporter

import (
	"fmt"
	"strings"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
)

// CEFExporter exports threat records in Common Event Format for SIEM ingestion
type CEFExporter struct {
	version string
}

func NewCEFExporter(version string) *CEFExporter {
	if version == "" {
		version = "1.0"
	}
	return &CEFExporter{version: version}
}

func (e *CEFExporter) ContentType() string { return "text/plain; charset=utf-8" }

// Export generates one CEF line per record passing the filter, risk-descending.
// Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(snap *domain.Snapshot, f domain.Filter) ([]byte, error) {
	var output strings.Builder

	for _, rec := range snap.Query(f) {
		output.WriteString(e.formatCEF(snap, rec))
		output.WriteString("\n")
	}

	return []byte(output.String()), nil
}

func (e *CEFExporter) formatCEF(snap *domain.Snapshot, rec domain.ThreatRecord) string {
	vendor := "Hive"
	product := "ThreatFeed"
	signatureID := string(rec.Type)
	name := fmt.Sprintf("%s email threat", rec.Type)
	severity := cefSeverity(rec.Risk)

	// CEF Extensions (key=value pairs)
	extensions := []string{
		fmt.Sprintf("externalId=%s", escapeField(rec.ID)),
		fmt.Sprintf("rt=%d", rec.Timestamp.UnixMilli()),
		"cn1Label=RiskScore",
		fmt.Sprintf("cn1=%d", rec.RiskScore),
		"cs1Label=RiskLevel",
		fmt.Sprintf("cs1=%s", rec.Risk),
		"cs2Label=RawType",
		fmt.Sprintf("cs2=%s", escapeField(rec.RawType)),
		"cs3Label=Status",
		fmt.Sprintf("cs3=%s", escapeField(rec.Status)),
		"cs4Label=SnapshotID",
		fmt.Sprintf("cs4=%s", escapeField(snap.ID)),
	}
	if sender := domain.SenderAddress(rec.Details.Sender); sender != "" {
		extensions = append(extensions, fmt.Sprintf("suser=%s", escapeField(sender)))
	}
	if domainName := domain.SenderDomain(rec.Details.Sender); domainName != "" {
		extensions = append(extensions, fmt.Sprintf("shost=%s", escapeField(domainName)))
	}
	if rec.Details.Subject != "" {
		extensions = append(extensions, fmt.Sprintf("msg=%s", escapeField(rec.Details.Subject)))
	}

	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		vendor, product, escapeHeader(e.version), escapeHeader(signatureID), escapeHeader(name),
		severity, strings.Join(extensions, " "))
}

// cefSeverity maps a risk level to the CEF 0-10 scale.
func cefSeverity(level domain.RiskLevel) int {
	switch level {
	case domain.Critical:
		return 10
	case domain.High:
		return 8
	case domain.Medium:
		return 5
	default:
		return 2
	}
}

func escapeHeader(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	return s
}

func escapeField(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
