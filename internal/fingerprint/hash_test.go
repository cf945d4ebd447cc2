package fingerprint

import (
	"sync"
	"testing"

	"synchire-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Deterministic(t *testing.T) {
	h1 := Hash("Senior Go Engineer\nPython, SQL")
	h2 := Hash("Senior Go Engineer\nPython, SQL")
	assert.Equal(t, h1, h2)
	assert.True(t, IsValid(h1))
	assert.Len(t, string(h1), 64)
}

func TestHash_EmptyText(t *testing.T) {
	// sha256("")
	assert.Equal(t, types.ContentHash("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"), Hash(""))
	// 纯空白规范化后也是空串
	assert.Equal(t, Hash(""), Hash(" \t\n "))
}

func TestHash_Normalization(t *testing.T) {
	base := Hash("python and sql")

	// 大小写、空白差异不影响哈希
	assert.Equal(t, base, Hash("  Python   AND\tSQL \n"))
	assert.Equal(t, base, Hash("PYTHON and　sql"))

	// NFC：组合字符与预组合字符等价
	assert.Equal(t, Hash("caf\u00e9"), Hash("cafe\u0301"))

	// 内容不同则哈希不同
	assert.NotEqual(t, base, Hash("python or sql"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello\n\n  WORLD  "))
	assert.Equal(t, "", Normalize(""))
}

func TestHashLines(t *testing.T) {
	a := HashLines([]string{"Tell me about yourself", "Why Go?"})
	b := HashLines([]string{"tell me about   yourself", "why go?"})
	c := HashLines([]string{"Why Go?", "Tell me about yourself"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "顺序变化会产生新的哈希")
	assert.True(t, IsValid(HashLines(nil)))
}

func TestHash_Concurrent(t *testing.T) {
	want := Hash("Kubernetes operator experience")
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.Equal(t, want, Hash("kubernetes  OPERATOR experience"))
		}()
	}
	wg.Wait()
}

func TestIsValid(t *testing.T) {
	assert.False(t, IsValid("abc"))
	assert.False(t, IsValid(types.ContentHash("E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855")))
}
