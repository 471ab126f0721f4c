package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"classtrack/internal/attendance"
)

// Labels and formats follow the Thai locale the deployment serves.
var thaiMonths = [...]string{
	"มกราคม", "กุมภาพันธ์", "มีนาคม", "เมษายน", "พฤษภาคม", "มิถุนายน",
	"กรกฎาคม", "สิงหาคม", "กันยายน", "ตุลาคม", "พฤศจิกายน", "ธันวาคม",
}

const (
	labelPresent    = "มา"
	labelAbsent     = "ขาด"
	noReasonGiven   = "ไม่ระบุเหตุผล"
	buddhistEraGap  = 543
	filenamePattern = "Attendance_%s_%s_%s.csv"
)

// Export is a generated attendance report ready to be served as a download.
type Export struct {
	Filename string
	Payload  []byte
}

// Build renders the owner summary into a BOM-prefixed CSV with three
// sections: summary block, canceled sessions, roster matrix.
func Build(sum *attendance.OwnerSummary, exporterName string, now time.Time, loc *time.Location) (*Export, error) {
	var buf bytes.Buffer
	// UTF-8 BOM so spreadsheet tools detect the encoding.
	buf.Write([]byte{0xEF, 0xBB, 0xBF})

	w := csv.NewWriter(&buf)

	records := [][]string{
		{"รายวิชา", sum.CourseName},
		{"จำนวนนักเรียน", strconv.Itoa(len(sum.Roster))},
		{"เปอร์เซ็นต์การเข้าเรียนเฉลี่ย", fmt.Sprintf("%.2f%%", sum.AveragePercent)},
		{"จำนวนครั้งที่เรียนแล้ว", strconv.Itoa(sum.HeldCount)},
		{"จำนวนครั้งทั้งหมด", strconv.Itoa(sum.PlannedTotal)},
		{"จำนวนครั้งที่ยกเลิก", strconv.Itoa(sum.CanceledCount)},
		{"ผู้ส่งออก", exporterName},
		{"ส่งออกเมื่อ", formatDateTime(now, loc)},
		{},
	}

	records = append(records, []string{"คาบที่ยกเลิก", "เวลา", "เหตุผล"})
	for _, sess := range sum.Canceled {
		reason := sess.Note
		if reason == "" {
			reason = noReasonGiven
		}
		records = append(records, []string{
			formatLongDate(sess.WindowStart, loc),
			sess.StartTime,
			reason,
		})
	}
	records = append(records, []string{})

	header := []string{"รหัส", "ชื่อ"}
	for _, sess := range sum.Held {
		// Include the start time so two sessions on one date still get
		// unique column headers.
		header = append(header, fmt.Sprintf("%s (%s)", formatShortDate(sess.WindowStart, loc), sess.StartTime))
	}
	header = append(header, labelPresent+"/ทั้งหมด", "เปอร์เซ็นต์")
	records = append(records, header)

	for _, row := range sum.Roster {
		line := []string{row.MemberID, row.Name}
		for _, p := range row.Presences {
			if p.Present {
				line = append(line, labelPresent)
			} else {
				line = append(line, labelAbsent)
			}
		}
		line = append(line,
			fmt.Sprintf("%d/%d", row.Present, sum.HeldCount),
			fmt.Sprintf("%d%%", row.Percent),
		)
		records = append(records, line)
	}

	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	local := now.In(loc)
	return &Export{
		Filename: fmt.Sprintf(filenamePattern,
			SanitizeName(sum.CourseName),
			local.Format("2006-01-02"),
			local.Format("15-04-05"),
		),
		Payload: buf.Bytes(),
	}, nil
}

// SanitizeName strips a course name down to ASCII alphanumerics and Thai
// characters for use in a filename.
func SanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			out = append(out, r)
		case r >= 0x0E00 && r <= 0x0E7F:
			out = append(out, r)
		}
	}
	return string(out)
}

// formatLongDate renders e.g. "2 มกราคม 2569" (Buddhist era).
func formatLongDate(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	return fmt.Sprintf("%d %s %d", local.Day(), thaiMonths[local.Month()-1], local.Year()+buddhistEraGap)
}

// formatShortDate renders e.g. "2/1/2569".
func formatShortDate(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	return fmt.Sprintf("%d/%d/%d", local.Day(), int(local.Month()), local.Year()+buddhistEraGap)
}

func formatDateTime(t time.Time, loc *time.Location) string {
	return formatLongDate(t, loc) + " " + t.In(loc).Format("15:04")
}
