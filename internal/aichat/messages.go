package aichat

import (
	"fmt"

	"github.com/2389/coven-aichat/internal/provider"
)

func unavailableMessage(kind provider.Kind) string {
	return fmt.Sprintf("ごめんなさい、%sは今使えないみたいです…(APIキーが設定されていません)", kind)
}

func errorMessage(kind provider.Kind) string {
	return fmt.Sprintf("ごめんなさい、うまく答えが見つかりませんでした…(%s)", kind)
}

func postMessage(answer string, kind provider.Kind) string {
	return fmt.Sprintf("%s\n\n(%s) #aichat", answer, kind)
}
