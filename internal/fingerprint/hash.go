// Package fingerprint 计算规范化文本的内容哈希
//
// 规范化步骤固定为：Unicode NFC -> 大小写折叠 -> 连续空白折叠为单个空格 -> 去掉首尾空白。
// 摘要为规范化后UTF-8字节的SHA-256，小写十六进制。
package fingerprint

import (
	"encoding/hex"
	"strings"

	"synchire-go/internal/types"

	"github.com/minio/sha256-simd"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize 返回参与哈希的规范化文本
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := norm.NFC.String(text)
	// Caser 有内部状态，不能跨 goroutine 共享
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Hash 对任意文本计算内容哈希，空文本也是合法输入
func Hash(text string) types.ContentHash {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return types.ContentHash(hex.EncodeToString(sum[:]))
}

// HashLines 逐行规范化后用换行拼接再计算哈希，用于面试问题集合
func HashLines(lines []string) types.ContentHash {
	normalized := make([]string, 0, len(lines))
	for _, l := range lines {
		normalized = append(normalized, Normalize(l))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\n")))
	return types.ContentHash(hex.EncodeToString(sum[:]))
}

// IsValid 判断是否为64位小写十六进制哈希
func IsValid(h types.ContentHash) bool {
	if len(h) != sha256.Size*2 {
		return false
	}
	for _, c := range string(h) {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
