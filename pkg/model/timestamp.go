package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// LegacyTimeLayout 是早期版本写入数据文件的时间格式（本地时区、无时区标记）。
const LegacyTimeLayout = "January 02, 2006 15:04:05"

// Timestamp 内部始终是 time.Time，只在落盘边界格式化为 RFC3339。
type Timestamp struct {
	time.Time
}

func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("时间字段不是字符串：%w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	v, err := time.ParseInLocation(LegacyTimeLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("无法解析时间 %q：%w", s, err)
	}
	t.Time = v
	return nil
}

// Display 用于展示层，零值返回 placeholder。
func (t Timestamp) Display(placeholder string) string {
	if t.IsZero() {
		return placeholder
	}
	return t.Time.Format(time.RFC3339)
}
