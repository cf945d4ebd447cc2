package matching

import (
	"strings"

	"synchire-go/internal/fingerprint"
)

// skillAliases 常见写法到规范键的映射，键和值都已规范化
var skillAliases = map[string]string{
	"golang":              "go",
	"go lang":             "go",
	"js":                  "javascript",
	"ecmascript":          "javascript",
	"ts":                  "typescript",
	"k8s":                 "kubernetes",
	"kube":                "kubernetes",
	"py":                  "python",
	"python3":             "python",
	"postgres":            "postgresql",
	"psql":                "postgresql",
	"pg":                  "postgresql",
	"mongo":               "mongodb",
	"node":                "node.js",
	"nodejs":              "node.js",
	"reactjs":             "react",
	"react.js":            "react",
	"vuejs":               "vue",
	"vue.js":              "vue",
	"c sharp":             "c#",
	"csharp":              "c#",
	"cpp":                 "c++",
	"aws cloud":           "aws",
	"amazon web services": "aws",
	"gcp":                 "google cloud",
	"ml":                  "machine learning",
	"dl":                  "deep learning",
	"tf":                  "terraform",
	"mysql db":            "mysql",
	"sql databases":       "sql",
	"rdbms":               "sql",
}

// skillDisplay 规范键的展示名
var skillDisplay = map[string]string{
	"go":               "Go",
	"javascript":       "JavaScript",
	"typescript":       "TypeScript",
	"kubernetes":       "Kubernetes",
	"python":           "Python",
	"postgresql":       "PostgreSQL",
	"mongodb":          "MongoDB",
	"node.js":          "Node.js",
	"react":            "React",
	"vue":              "Vue",
	"c#":               "C#",
	"c++":              "C++",
	"aws":              "AWS",
	"google cloud":     "Google Cloud",
	"machine learning": "Machine Learning",
	"deep learning":    "Deep Learning",
	"terraform":        "Terraform",
	"mysql":            "MySQL",
	"sql":              "SQL",
	"java":             "Java",
	"docker":           "Docker",
	"redis":            "Redis",
	"rabbitmq":         "RabbitMQ",
}

// CanonicalSkill 返回技能的规范键：去空白、大小写折叠、别名替换
func CanonicalSkill(name string) string {
	key := fingerprint.Normalize(name)
	if alias, ok := skillAliases[key]; ok {
		return alias
	}
	return key
}

// DisplaySkill 返回技能的展示名，未知技能使用原始写法（去掉首尾空白）
func DisplaySkill(name string) string {
	if d, ok := skillDisplay[CanonicalSkill(name)]; ok {
		return d
	}
	return strings.Join(strings.Fields(name), " ")
}
