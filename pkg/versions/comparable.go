package versions

import (
	"strconv"
	"strings"
)

var qualifiers = []string{"alpha", "beta", "milestone", "rc", "snapshot", "", "sp"}

var aliases = map[string]string{
	"ga":      "",
	"final":   "",
	"release": "",
	"cr":      "rc",
}

// releaseIndex is the comparable form of the empty qualifier.
var releaseIndex = strconv.Itoa(indexOf(""))

type item interface {
	// compare with a nil other means comparing against padding.
	compare(other item) int
	isNull() bool
}

type intItem string // normalised decimal digits without leading zeros

type stringItem string

type listItem []item

func newIntItem(s string) intItem {
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}
	return intItem(s)
}

func newStringItem(s string, followedByDigit bool) stringItem {
	if followedByDigit && len(s) == 1 {
		switch s[0] {
		case 'a':
			s = "alpha"
		case 'b':
			s = "beta"
		case 'm':
			s = "milestone"
		}
	}
	if alias, ok := aliases[s]; ok {
		s = alias
	}
	return stringItem(s)
}

func (i intItem) isNull() bool { return i == "0" }

func (i intItem) compare(other item) int {
	switch o := other.(type) {
	case nil:
		if i.isNull() {
			return 0
		}
		return 1
	case intItem:
		return compareDigits(string(i), string(o))
	case stringItem, *listItem:
		return 1
	}
	return 0
}

func compareDigits(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func indexOf(q string) int {
	for i, s := range qualifiers {
		if s == q {
			return i
		}
	}
	return -1
}

func comparableQualifier(q string) string {
	if i := indexOf(q); i >= 0 {
		return strconv.Itoa(i)
	}
	// unknown qualifiers sort after known ones, lexically among themselves
	return strconv.Itoa(len(qualifiers)) + "-" + q
}

func (s stringItem) isNull() bool {
	return comparableQualifier(string(s)) == releaseIndex
}

func (s stringItem) compare(other item) int {
	switch o := other.(type) {
	case nil:
		return strings.Compare(comparableQualifier(string(s)), releaseIndex)
	case intItem:
		return -1
	case stringItem:
		return strings.Compare(comparableQualifier(string(s)), comparableQualifier(string(o)))
	case *listItem:
		return -1
	}
	return 0
}

func (l *listItem) isNull() bool { return len(*l) == 0 }

func (l *listItem) add(it item) { *l = append(*l, it) }

// normalize drops trailing null items so that 1.0 == 1 and 1-ga == 1.
func (l *listItem) normalize() {
	for i := len(*l) - 1; i >= 0; i-- {
		last := (*l)[i]
		if last.isNull() {
			*l = append((*l)[:i], (*l)[i+1:]...)
			continue
		}
		if _, ok := last.(*listItem); !ok {
			break
		}
	}
}

func (l *listItem) compare(other item) int {
	switch o := other.(type) {
	case nil:
		if len(*l) == 0 {
			return 0
		}
		return (*l)[0].compare(nil)
	case intItem:
		return -1
	case stringItem:
		return 1
	case *listItem:
		n := max(len(*l), len(*o))
		for i := 0; i < n; i++ {
			var left, right item
			if i < len(*l) {
				left = (*l)[i]
			}
			if i < len(*o) {
				right = (*o)[i]
			}
			var result int
			if left == nil {
				if right != nil {
					result = -right.compare(nil)
				}
			} else {
				result = left.compare(right)
			}
			if result != 0 {
				return result
			}
		}
	}
	return 0
}

func parseItem(isDigit bool, s string) item {
	if isDigit {
		return newIntItem(s)
	}
	return newStringItem(s, false)
}

func parse(version string) *listItem {
	version = strings.ToLower(version)
	root := &listItem{}
	list := root
	stack := []*listItem{root}

	isDigit := false
	start := 0
	for i := 0; i < len(version); i++ {
		c := version[i]
		switch {
		case c == '.':
			if i == start {
				list.add(newIntItem("0"))
			} else {
				list.add(parseItem(isDigit, version[start:i]))
			}
			start = i + 1
		case c == '-':
			if i == start {
				list.add(newIntItem("0"))
			} else {
				list.add(parseItem(isDigit, version[start:i]))
			}
			start = i + 1
			sub := &listItem{}
			list.add(sub)
			list = sub
			stack = append(stack, list)
		case c >= '0' && c <= '9':
			if !isDigit && i > start {
				list.add(newStringItem(version[start:i], true))
				start = i
				sub := &listItem{}
				list.add(sub)
				list = sub
				stack = append(stack, list)
			}
			isDigit = true
		default:
			if isDigit && i > start {
				list.add(parseItem(true, version[start:i]))
				start = i
				sub := &listItem{}
				list.add(sub)
				list = sub
				stack = append(stack, list)
			}
			isDigit = false
		}
	}
	if len(version) > start {
		list.add(parseItem(isDigit, version[start:]))
	}

	for i := len(stack) - 1; i >= 0; i-- {
		stack[i].normalize()
	}
	return root
}
