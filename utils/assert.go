package utils

import "fmt"

// Assert 用于内部不变量, 失败即为程序错误
func Assert(condition bool) {
	if !condition {
		panic("assertion failed")
	}
}

func Assertf(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}
