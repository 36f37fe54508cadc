package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeFor[time.Duration]()

// envField 一个可被环境变量覆盖的叶子字段
type envField struct {
	key   string
	value reflect.Value
}

// envFields 沿 env 标签展开 v，嵌套结构体的键以 "_" 连接
func envFields(v reflect.Value, prefix string) []envField {
	var out []envField
	t := v.Type()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		if fv := v.Field(i); fv.Kind() == reflect.Struct {
			out = append(out, envFields(fv, key)...)
		} else if fv.CanSet() {
			out = append(out, envField{key: key, value: fv})
		}
	}
	return out
}

// applyEnv 空值视为未设置；所有解析失败一并返回
func applyEnv(cfg *Config, prefix string, lookup func(string) (string, bool)) error {
	var errs []error
	for _, f := range envFields(reflect.ValueOf(cfg).Elem(), prefix) {
		raw, ok := lookup(f.key)
		if !ok || raw == "" {
			continue
		}
		if err := parseInto(f.value, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", f.key, raw, err))
		}
	}
	return errors.Join(errs...)
}

func parseInto(v reflect.Value, raw string) error {
	if v.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", v.Type())
		}
		var items []string
		for item := range strings.SplitSeq(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		v.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", v.Type())
	}
	return nil
}
