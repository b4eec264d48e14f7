package server

import (
	"math/rand/v2"
)

// 昵称词库
var (
	adjectives = []string{
		"勇敢的", "聪明的", "快乐的", "神秘的", "酷炫的",
		"优雅的", "可爱的", "威武的", "沉稳的", "活泼的",
		"机智的", "潇洒的", "温柔的", "霸气的", "淡定的",
	}

	nouns = []string{
		"熊猫", "老虎", "狐狸", "海豚", "企鹅",
		"考拉", "柯基", "柴犬", "龙猫", "仓鼠",
		"刺猬", "松鼠", "浣熊", "水獭", "羊驼",
	}
)

// GenerateNickname 生成随机昵称，作为未提供显示名时的默认名字
func GenerateNickname() string {
	return adjectives[rand.IntN(len(adjectives))] + nouns[rand.IntN(len(nouns))]
}
